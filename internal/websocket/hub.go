package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - емкость очереди broadcast; при переполнении сообщения отбрасываются
const broadcastBufferSize = 256

// StateProvider - источник состояния движка для снапшотов и периодических обновлений
type StateProvider interface {
	RiskState() models.RiskState
	Positions() []*models.Position
}

// Hub управляет всеми активными WebSocket соединениями UI.
//
// Рассылает уведомления, позиции и состояние гейта. Новый клиент
// сразу получает снапшот, чтобы не ждать следующего периодического обновления.
// Медленные клиенты отключаются, а переполнение очереди broadcast
// не блокирует движок.
//
// Использование:
// 1. hub := NewHub(logger); hub.SetStateProvider(engine)
// 2. go hub.Run()
// 3. go hub.RunStatePublisher(ctx, time.Second)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	clientCount int64
	dropped     int64

	stateMu sync.RWMutex
	state   StateProvider

	log *utils.Logger
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		log:        logger.WithComponent("ws_hub"),
	}
}

// SetStateProvider задает источник снапшотов
func (h *Hub) SetStateProvider(p StateProvider) {
	h.stateMu.Lock()
	h.state = p
	h.stateMu.Unlock()
}

func (h *Hub) stateProvider() StateProvider {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// Run запускает главный цикл Hub; возвращается после Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			atomic.StoreInt64(&h.clientCount, int64(n))
			h.sendSnapshot(client)
			h.log.Info("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			atomic.StoreInt64(&h.clientCount, int64(n))
			h.log.Info("client disconnected", utils.Int("clients", n))

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			atomic.StoreInt64(&h.clientCount, 0)
			return
		}
	}
}

// fanOut рассылает сообщение без удержания блокировки на время отправки
func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	atomic.StoreInt64(&h.clientCount, int64(n))
	h.log.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("clients", n))
}

func (h *Hub) sendSnapshot(client *Client) {
	p := h.stateProvider()
	if p == nil {
		return
	}
	data, err := json.Marshal(NewSnapshotMessage(p.RiskState(), p.Positions()))
	if err != nil {
		h.log.Error("snapshot marshal failed", utils.Err(err))
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// Stop останавливает Run и закрывает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("broadcast marshal failed", utils.Err(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение; не блокирует
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	if notif == nil {
		return
	}
	h.Broadcast(NewNotificationMessage(notif))
}

// BroadcastPositions отправляет список живых позиций
func (h *Hub) BroadcastPositions(positions []*models.Position) {
	h.Broadcast(NewPositionsMessage(positions))
}

// BroadcastRisk отправляет снимок гейта
func (h *Hub) BroadcastRisk(state models.RiskState) {
	h.Broadcast(NewRiskMessage(state))
}

// RunStatePublisher периодически рассылает позиции и гейт, пока есть клиенты
func (h *Hub) RunStatePublisher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			p := h.stateProvider()
			if p == nil {
				continue
			}
			h.BroadcastPositions(p.Positions())
			h.BroadcastRisk(p.RiskState())
		}
	}
}

// ClientCount возвращает количество подключенных клиентов (без блокировки)
func (h *Hub) ClientCount() int {
	return int(atomic.LoadInt64(&h.clientCount))
}

// DroppedMessages - сколько сообщений отброшено из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}

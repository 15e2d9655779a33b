package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"confluencebot/internal/models"
	"confluencebot/internal/notify"
	"confluencebot/pkg/utils"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationConfig - параметры доставки уведомлений
type NotificationConfig struct {
	// PushMinSeverity - минимальный уровень для push; торговые события уходят всегда
	PushMinSeverity string
	PushTimeout     time.Duration
	QueueSize       int

	// KeepRecent - сколько уведомлений хранить в журнале; 0 - без очистки
	KeepRecent   int
	CleanupEvery int
}

// DefaultNotificationConfig возвращает конфигурацию по умолчанию
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		PushMinSeverity: models.SeverityWarn,
		PushTimeout:     10 * time.Second,
		QueueSize:       256,
		KeepRecent:      1000,
		CleanupEvery:    100,
	}
}

// tradeEvents пушатся независимо от уровня важности
var tradeEvents = map[string]bool{
	models.NotificationTypeOpened:       true,
	models.NotificationTypePartialExit:  true,
	models.NotificationTypeStopLoss:     true,
	models.NotificationTypeTrailingStop: true,
	models.NotificationTypeClosed:       true,
}

// NotificationService - получатель уведомлений движка.
//
// Каждое уведомление сохраняется в журнал, рассылается в UI через hub
// и асинхронно отправляется во внешние каналы (FCM, Discord).
// Notify никогда не блокирует вызывающего на сетевых операциях push.
type NotificationService struct {
	repo    NotificationRepositoryInterface
	wsHub   WebSocketBroadcaster
	pushers []notify.Pusher
	cfg     NotificationConfig
	log     *utils.Logger

	queue   chan *models.Notification
	created int
	mu      sync.Mutex
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(repo NotificationRepositoryInterface, cfg NotificationConfig, logger *utils.Logger) *NotificationService {
	def := DefaultNotificationConfig()
	if cfg.PushMinSeverity == "" {
		cfg.PushMinSeverity = def.PushMinSeverity
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = def.PushTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = def.CleanupEvery
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &NotificationService{
		repo:  repo,
		cfg:   cfg,
		log:   logger.WithComponent("notifications"),
		queue: make(chan *models.Notification, cfg.QueueSize),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, cfg, logger)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// AddPusher подключает внешний канал доставки
func (s *NotificationService) AddPusher(p notify.Pusher) {
	s.pushers = append(s.pushers, p)
}

// Notify сохраняет, рассылает и ставит уведомление в очередь push.
// Ошибка журнала не мешает доставке в UI и внешние каналы.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) {
	if n.Severity == "" {
		n.Severity = models.SeverityForType(n.Type)
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	if s.repo != nil {
		if err := s.repo.Create(ctx, n); err != nil {
			s.log.Error("failed to persist notification",
				zap.String("type", n.Type), utils.Symbol(n.Symbol), zap.Error(err))
		} else {
			s.maybeCleanup(ctx)
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
	}

	if len(s.pushers) == 0 || !s.shouldPush(n) {
		return
	}
	select {
	case s.queue <- n:
	default:
		s.log.Warn("push queue full, notification dropped",
			zap.String("type", n.Type), utils.Symbol(n.Symbol))
	}
}

func (s *NotificationService) shouldPush(n *models.Notification) bool {
	if tradeEvents[n.Type] {
		return true
	}
	return notify.SeverityRank(n.Severity) >= notify.SeverityRank(s.cfg.PushMinSeverity)
}

// maybeCleanup раз в CleanupEvery уведомлений обрезает журнал
func (s *NotificationService) maybeCleanup(ctx context.Context) {
	if s.cfg.KeepRecent <= 0 {
		return
	}
	s.mu.Lock()
	s.created++
	due := s.created%s.cfg.CleanupEvery == 0
	s.mu.Unlock()
	if !due {
		return
	}
	if deleted, err := s.repo.KeepRecent(ctx, s.cfg.KeepRecent); err != nil {
		s.log.Warn("notification cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		s.log.Debug("notification journal trimmed", zap.Int64("deleted", deleted))
	}
}

// Run доставляет уведомления из очереди во внешние каналы до отмены ctx,
// затем досылает то, что осталось в очереди.
func (s *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case n := <-s.queue:
			s.push(ctx, n)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *NotificationService) drain() {
	for {
		select {
		case n := <-s.queue:
			s.push(context.Background(), n)
		default:
			return
		}
	}
}

func (s *NotificationService) push(ctx context.Context, n *models.Notification) {
	for _, p := range s.pushers {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PushTimeout)
		err := p.Push(pctx, n)
		cancel()
		if err != nil {
			s.log.Warn("push failed",
				zap.String("pusher", p.Name()), zap.String("type", n.Type),
				utils.Symbol(n.Symbol), zap.Error(err))
		}
	}
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// Параметры:
// - types: список типов для фильтрации (например: ["OPENED", "CLOSED"]);
//   если пустой - возвращаются все типы
// - limit: максимальное количество записей (по умолчанию 100, не больше 500)
func (s *NotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	normalizedTypes := make([]string, 0, len(types))
	for _, t := range types {
		normalized := strings.ToUpper(strings.TrimSpace(t))
		if normalized != "" && isValidNotificationType(normalized) {
			normalizedTypes = append(normalizedTypes, normalized)
		}
	}

	var (
		list []*models.Notification
		err  error
	)
	if len(normalizedTypes) > 0 {
		list, err = s.repo.GetByTypes(ctx, normalizedTypes, limit)
	} else {
		list, err = s.repo.GetRecent(ctx, limit)
	}
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Notification{}
	}
	return list, nil
}

// ClearNotifications очищает журнал уведомлений
func (s *NotificationService) ClearNotifications(ctx context.Context) error {
	return s.repo.DeleteAll(ctx)
}

// GetNotificationCount возвращает общее количество уведомлений
func (s *NotificationService) GetNotificationCount(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// isValidNotificationType проверяет, является ли тип допустимым
func isValidNotificationType(notifType string) bool {
	switch notifType {
	case models.NotificationTypeApproved,
		models.NotificationTypeRejected,
		models.NotificationTypeOpened,
		models.NotificationTypeEntryFailed,
		models.NotificationTypePartialExit,
		models.NotificationTypeStopLoss,
		models.NotificationTypeTrailingStop,
		models.NotificationTypeClosed,
		models.NotificationTypeStale,
		models.NotificationTypeHalted,
		models.NotificationTypeResumed,
		models.NotificationTypeRecovery,
		models.NotificationTypeDayReset:
		return true
	}
	return false
}

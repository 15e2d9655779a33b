package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"confluencebot/pkg/utils"
)

// DefaultLedgerCapacity - сколько ID алертов помнит журнал
const DefaultLedgerCapacity = 10000

// ErrLedgerPersist - журнал не смог сохранить ID, алерт не принят
var ErrLedgerPersist = errors.New("ledger persistence failed")

// LedgerStore - постоянное хранилище журнала обработанных алертов
type LedgerStore interface {
	// Append сохраняет ID; возвращается только после фиксации записи
	Append(ctx context.Context, alertID string, at time.Time) error

	// LoadRecent возвращает последние limit ID от старых к новым
	LoadRecent(ctx context.Context, limit int) ([]string, error)

	// Trim удаляет все записи кроме последних keep
	Trim(ctx context.Context, keep int) error
}

// Ledger - ограниченное множество ID уже обработанных алертов.
//
// Порядок вставки хранится в кольцевом буфере: при переполнении
// вытесняется самый старый ID.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	ids      map[string]struct{}
	ring     []string
	head     int // позиция самого старого элемента при заполненном кольце

	store     LedgerStore
	trimEvery int
	appends   int
	log       *utils.Logger
}

// NewLedger создает журнал. store может быть nil (только память).
func NewLedger(capacity int, store LedgerStore, trimEvery int, logger *utils.Logger) *Ledger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	if trimEvery <= 0 {
		trimEvery = capacity / 10
		if trimEvery == 0 {
			trimEvery = 1
		}
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Ledger{
		capacity:  capacity,
		ids:       make(map[string]struct{}, capacity),
		ring:      make([]string, 0, capacity),
		store:     store,
		trimEvery: trimEvery,
		log:       logger.WithComponent("ledger"),
	}
}

// Load восстанавливает журнал из хранилища после рестарта
func (l *Ledger) Load(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	ids, err := l.store.LoadRecent(ctx, l.capacity)
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.insertLocked(id)
	}
	return len(ids), nil
}

// Contains - был ли алерт уже обработан
func (l *Ledger) Contains(alertID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[alertID]
	return ok
}

// Append записывает ID сначала в хранилище, затем в память.
// Повторный ID - no-op.
func (l *Ledger) Append(ctx context.Context, alertID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[alertID]; ok {
		return nil
	}

	if l.store != nil {
		if err := l.store.Append(ctx, alertID, at); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerPersist, err)
		}
	}
	l.insertLocked(alertID)

	l.appends++
	if l.store != nil && l.appends%l.trimEvery == 0 {
		// ошибка обрезки не влияет на прием алерта
		if err := l.store.Trim(ctx, l.capacity); err != nil {
			l.log.Warn("ledger trim failed", utils.Err(err))
		}
	}
	return nil
}

func (l *Ledger) insertLocked(id string) {
	if _, ok := l.ids[id]; ok {
		return
	}
	if len(l.ring) < l.capacity {
		l.ring = append(l.ring, id)
	} else {
		delete(l.ids, l.ring[l.head])
		l.ring[l.head] = id
		l.head = (l.head + 1) % l.capacity
	}
	l.ids[id] = struct{}{}
}

// Len возвращает количество ID в памяти
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

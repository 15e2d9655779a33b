package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"confluencebot/internal/exchange"
	"confluencebot/internal/models"
	"confluencebot/pkg/retry"
)

// ============================================================
// Общие заглушки для тестов пакета
// ============================================================

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClock - управляемые часы
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFutures - биржа в памяти: вход исполняется по текущей цене
// фиксированным объемом
type fakeFutures struct {
	mu        sync.Mutex
	prices    map[string]float64
	positions map[string]*exchange.Position
	qty       float64

	entryErr      error
	exitErr       error
	blockEntry    bool // вход висит до дедлайна ctx
	fillAfterWait bool // при blockEntry позиция все же появляется

	entries int
	exits   int
}

func newFakeFutures() *fakeFutures {
	return &fakeFutures{
		prices:    make(map[string]float64),
		positions: make(map[string]*exchange.Position),
		qty:       10,
	}
}

func (f *fakeFutures) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

func (f *fakeFutures) SetExitErr(err error) {
	f.mu.Lock()
	f.exitErr = err
	f.mu.Unlock()
}

func (f *fakeFutures) Exits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exits
}

func (f *fakeFutures) Entries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries
}

func (f *fakeFutures) PlaceEntryOrder(ctx context.Context, symbol, side string, sizingPercent float64) (*exchange.Fill, error) {
	f.mu.Lock()
	f.entries++
	block, fillLate, entryErr := f.blockEntry, f.fillAfterWait, f.entryErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		if fillLate {
			f.mu.Lock()
			f.positions[symbol] = &exchange.Position{Symbol: symbol, Side: side, Size: f.qty, EntryPrice: f.prices[symbol]}
			f.mu.Unlock()
		}
		return nil, exchange.ErrEntryTimeout
	}
	if entryErr != nil {
		return nil, entryErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	price := f.prices[symbol]
	f.positions[symbol] = &exchange.Position{Symbol: symbol, Side: side, Size: f.qty, EntryPrice: price}
	return &exchange.Fill{Symbol: symbol, Side: exchange.EntrySide(side), Quantity: f.qty, Price: price, At: testStart}, nil
}

func (f *fakeFutures) PlaceExitOrder(ctx context.Context, symbol string, fraction float64, orderType string) (*exchange.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits++
	if f.exitErr != nil {
		return nil, f.exitErr
	}
	p := f.positions[symbol]
	if p == nil {
		return nil, retry.Permanent(exchange.ErrNoPosition)
	}
	qty := p.Size * fraction
	if fraction >= 1 {
		qty = p.Size
	}
	p.Size -= qty
	if p.Size <= 1e-12 {
		delete(f.positions, symbol)
	}
	return &exchange.Fill{Symbol: symbol, Side: exchange.ExitSide(p.Side), Quantity: qty, Price: f.prices[symbol], At: testStart}, nil
}

func (f *fakeFutures) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (f *fakeFutures) GetOpenPositions(ctx context.Context) ([]*exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*exchange.Position, 0, len(f.positions))
	for _, p := range f.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// memPositions - PositionSnapshots в памяти
type memPositions struct {
	mu    sync.Mutex
	saved map[string]*models.Position
	saves int
}

func newMemPositions() *memPositions {
	return &memPositions{saved: make(map[string]*models.Position)}
}

func (s *memPositions) SavePosition(ctx context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[p.Symbol] = p.Clone()
	s.saves++
	return nil
}

func (s *memPositions) DeletePosition(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, symbol)
	return nil
}

func (s *memPositions) LoadPositions(ctx context.Context) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Position, 0, len(s.saved))
	for _, p := range s.saved {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *memPositions) Get(symbol string) *models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[symbol].Clone()
}

// memTrades - TradeStore в памяти
type memTrades struct {
	mu     sync.Mutex
	trades []*models.TradeRecord
}

func (s *memTrades) SaveTrade(ctx context.Context, t *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTrades) All() []*models.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.TradeRecord(nil), s.trades...)
}

func (s *memTrades) DayActivity(ctx context.Context, from time.Time) (*models.DayActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &models.DayActivity{}
	for _, t := range s.trades {
		if t.ClosedAt.Before(from) {
			continue
		}
		a.Closed++
		a.RealizedPnLPercent += t.RealizedPnLPercent
		if !t.OpenedAt.Before(from) {
			a.Opened++
		}
	}
	return a, nil
}

// memLedgerStore - LedgerStore в памяти
type memLedgerStore struct {
	mu        sync.Mutex
	ids       []string
	appendErr error
	trims     int
}

func (s *memLedgerStore) Append(ctx context.Context, alertID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.ids = append(s.ids, alertID)
	return nil
}

func (s *memLedgerStore) LoadRecent(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) <= limit {
		return append([]string(nil), s.ids...), nil
	}
	return append([]string(nil), s.ids[len(s.ids)-limit:]...), nil
}

func (s *memLedgerStore) Trim(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trims++
	if len(s.ids) > keep {
		s.ids = append([]string(nil), s.ids[len(s.ids)-keep:]...)
	}
	return nil
}

// memRiskStore - RiskStateStore в памяти
type memRiskStore struct {
	mu    sync.Mutex
	state *models.RiskState
	saves int
}

func (s *memRiskStore) LoadRiskState(ctx context.Context) (*models.RiskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	st := *s.state
	return &st, nil
}

func (s *memRiskStore) SaveRiskState(ctx context.Context, st models.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &st
	s.saves++
	return nil
}

// recordingSink собирает уведомления
type recordingSink struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (s *recordingSink) Notify(ctx context.Context, n *models.Notification) {
	s.mu.Lock()
	s.items = append(s.items, n)
	s.mu.Unlock()
}

func (s *recordingSink) Add(n *models.Notification) { s.Notify(context.Background(), n) }

func (s *recordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, n.Type)
	}
	return out
}

func (s *recordingSink) Count(notifType string) int {
	n := 0
	for _, t := range s.Types() {
		if t == notifType {
			n++
		}
	}
	return n
}

func fastExitRetry() retry.Config {
	return retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func alertAt(id string, typ models.AlertType, symbol string, ts time.Time) models.Alert {
	return models.Alert{ID: id, Type: typ, Symbol: symbol, Timestamp: ts}
}

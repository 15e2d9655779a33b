package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"confluencebot/internal/models"
	"confluencebot/internal/repository"
)

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu        sync.Mutex
	items     []*models.Notification
	nextID    int
	createErr error
	getErr    error
	keepCalls []int
	lastTypes []string
	lastLimit int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = m.nextID
	m.nextID++
	m.items = append(m.items, n)
	return nil
}

func (m *MockNotificationRepository) GetRecent(_ context.Context, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []*models.Notification
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}

func (m *MockNotificationRepository) GetByTypes(_ context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes = types
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*models.Notification
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		if want[m.items[i].Type] {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}

func (m *MockNotificationRepository) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *MockNotificationRepository) KeepRecent(_ context.Context, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepCalls = append(m.keepCalls, keep)
	if len(m.items) <= keep {
		return 0, nil
	}
	deleted := len(m.items) - keep
	m.items = m.items[deleted:]
	return int64(deleted), nil
}

func (m *MockNotificationRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ============ Mock SymbolRepository ============

type MockSymbolRepository struct {
	entries   map[string]*models.SymbolEntry
	upsertErr error
	upserts   int
}

func NewMockSymbolRepository(entries ...*models.SymbolEntry) *MockSymbolRepository {
	m := &MockSymbolRepository{entries: make(map[string]*models.SymbolEntry)}
	for _, e := range entries {
		m.entries[e.Symbol] = e
	}
	return m
}

func (m *MockSymbolRepository) Upsert(_ context.Context, entry *models.SymbolEntry) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	cp := *entry
	cp.UpdatedAt = time.Now()
	m.entries[entry.Symbol] = &cp
	return nil
}

func (m *MockSymbolRepository) GetAll(_ context.Context) ([]*models.SymbolEntry, error) {
	out := make([]*models.SymbolEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MockSymbolRepository) GetBySymbol(_ context.Context, symbol string) (*models.SymbolEntry, error) {
	if e, ok := m.entries[symbol]; ok {
		return e, nil
	}
	return nil, repository.ErrSymbolNotFound
}

func (m *MockSymbolRepository) Delete(_ context.Context, symbol string) error {
	if _, ok := m.entries[symbol]; !ok {
		return repository.ErrSymbolNotFound
	}
	delete(m.entries, symbol)
	return nil
}

func (m *MockSymbolRepository) Excluded(_ context.Context) ([]string, error) {
	var out []string
	for s, e := range m.entries {
		if e.Excluded {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ============ Mock gate ============

type mockGate struct {
	excluded   []string
	categories map[string]string
}

func newMockGate() *mockGate {
	return &mockGate{categories: make(map[string]string)}
}

func (g *mockGate) SetExclusions(symbols []string) { g.excluded = symbols }

func (g *mockGate) SetCategory(symbol, category string) { g.categories[symbol] = category }

// ============ Mock TradeRepository ============

type MockTradeRepository struct {
	summaries map[time.Time]*models.TradeSummary
	froms     []time.Time
	recent    []*models.TradeRecord
	err       error
}

func (m *MockTradeRepository) GetRecent(_ context.Context, limit int) ([]*models.TradeRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.recent) > limit {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

func (m *MockTradeRepository) Summary(_ context.Context, from time.Time) (*models.TradeSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.froms = append(m.froms, from)
	if s, ok := m.summaries[from]; ok {
		return s, nil
	}
	return &models.TradeSummary{From: from, ByCloseReason: map[string]int{}}, nil
}

// ============ Mock engine ============

type mockEngine struct {
	state      models.RiskState
	positions  []*models.Position
	halted     bool
	haltReason string
	closeErr   error
	closed     []string
}

func (e *mockEngine) RiskState() models.RiskState { return e.state }

func (e *mockEngine) Positions() []*models.Position { return e.positions }

func (e *mockEngine) Halt(reason string) bool {
	if e.halted {
		return false
	}
	e.halted = true
	e.haltReason = reason
	return true
}

func (e *mockEngine) Resume() bool {
	if !e.halted {
		return false
	}
	e.halted = false
	return true
}

func (e *mockEngine) ForceClose(_ context.Context, symbol string) error {
	if e.closeErr != nil {
		return e.closeErr
	}
	e.closed = append(e.closed, symbol)
	return nil
}

// ============ Mock hub / pusher ============

type mockHub struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (h *mockHub) BroadcastNotification(n *models.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, n)
}

type mockPusher struct {
	mu     sync.Mutex
	pushed []string
	err    error
	block  chan struct{}
}

func (p *mockPusher) Name() string { return "mock" }

func (p *mockPusher) Push(ctx context.Context, n *models.Notification) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, n.Type)
	return p.err
}

func (p *mockPusher) Pushed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pushed...)
}

package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"confluencebot/internal/bot"
	"confluencebot/internal/models"
	"confluencebot/internal/service"
)

// ============ Mock Alert Submitter ============

type mockSubmitter struct {
	mu       sync.Mutex
	seen     map[string]bool
	received []models.Alert
	err      error
}

func newMockSubmitter() *mockSubmitter {
	return &mockSubmitter{seen: make(map[string]bool)}
}

func (m *mockSubmitter) SubmitAlert(_ context.Context, alert models.Alert) (bot.IngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return bot.IngestResult{}, m.err
	}
	m.received = append(m.received, alert)

	res := bot.IngestResult{Alert: alert}
	switch {
	case alert.ID == "" || !alert.Type.Valid():
		res.Status = bot.IngestInvalid
		res.Reason = "invalid alert"
	case m.seen[alert.ID]:
		res.Status = bot.IngestDuplicate
	default:
		m.seen[alert.ID] = true
		res.Status = bot.IngestAccepted
		if alert.Type == models.AlertAlphaInflow {
			res.Candidate = &models.TradeCandidate{ID: "cand-" + alert.ID, Symbol: alert.Symbol}
		}
	}
	return res, nil
}

// ============ Mock Control Service ============

type mockControl struct {
	mu        sync.Mutex
	state     models.RiskState
	positions []*models.Position
	closeErr  error
	closed    []string
}

func newMockControl() *mockControl {
	return &mockControl{state: models.RiskState{Mode: models.GateActive, TradingDay: "2026-03-10"}}
}

func (m *mockControl) RiskState() models.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockControl) Halt(reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Mode == models.GateHalted {
		return false, service.ErrAlreadyHalted
	}
	m.state.Mode = models.GateHalted
	m.state.HaltedReason = reason
	return true, nil
}

func (m *mockControl) Resume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Mode != models.GateHalted {
		return false
	}
	m.state.Mode = models.GateActive
	m.state.HaltedReason = ""
	return true
}

func (m *mockControl) Positions() []*models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positions == nil {
		return []*models.Position{}
	}
	return m.positions
}

func (m *mockControl) ClosePosition(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return m.closeErr
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return service.ErrSymbolEmpty
	}
	for i, p := range m.positions {
		if p.Symbol == symbol {
			m.positions = append(m.positions[:i], m.positions[i+1:]...)
			m.closed = append(m.closed, symbol)
			return nil
		}
	}
	return service.ErrNoOpenPosition
}

// ============ Mock Symbol Service ============

type mockSymbols struct {
	mu      sync.Mutex
	entries map[string]*models.SymbolEntry
	listErr error
}

func newMockSymbols() *mockSymbols {
	return &mockSymbols{entries: make(map[string]*models.SymbolEntry)}
}

func (m *mockSymbols) List(_ context.Context) ([]*models.SymbolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.SymbolEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *mockSymbols) Upsert(_ context.Context, req service.UpsertSymbolRequest) (*models.SymbolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, service.ErrSymbolEmpty
	}
	entry := &models.SymbolEntry{
		Symbol:    symbol,
		Category:  strings.ToLower(req.Category),
		Excluded:  req.Excluded,
		Reason:    req.Reason,
		UpdatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	m.entries[symbol] = entry
	return entry, nil
}

func (m *mockSymbols) Remove(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := m.entries[symbol]; !ok {
		return service.ErrSymbolNotFound
	}
	delete(m.entries, symbol)
	return nil
}

// ============ Mock Notification Service ============

type mockNotifications struct {
	mu            sync.Mutex
	notifications []*models.Notification
	lastTypes     []string
	lastLimit     int
	err           error
}

func (m *mockNotifications) add(notifType, severity, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, &models.Notification{
		ID:        len(m.notifications) + 1,
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  severity,
		Message:   message,
	})
}

func (m *mockNotifications) GetNotifications(_ context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes = types
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	var out []*models.Notification
	for _, n := range m.notifications {
		if len(allowed) > 0 && !allowed[n.Type] {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockNotifications) ClearNotifications(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notifications = nil
	return nil
}

// ============ Mock Stats Service ============

type mockStats struct {
	resp *service.StatsResponse
	err  error
}

func (m *mockStats) GetStats(_ context.Context) (*service.StatsResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

var errDatabase = errors.New("database is down")

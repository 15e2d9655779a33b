package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluencebot/internal/exchange"
	"confluencebot/internal/models"
)

func TestRecovery_ReconcilesWithVenue(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// снапшот подтвержден биржей, но часть объема закрыта вне бота
	btc := &models.Position{
		Symbol: "BTCUSDT", Side: models.SideLong, State: models.PositionPartialExit,
		EntryPrice: 100, Size: 10, RemainingSize: 5, SizingPercent: 5, StopLossPrice: 97,
		TakeProfitLevels: []models.TakeProfitLevel{
			{TriggerPercent: 5, CloseFraction: 0.5, Triggered: true},
			{TriggerPercent: 10, CloseFraction: 0.5},
		},
		OpenedAt: testStart.Add(-time.Hour),
	}
	// снапшот без позиции на бирже
	eth := &models.Position{
		Symbol: "ETHUSDT", Side: models.SideShort, State: models.PositionOpen,
		EntryPrice: 2000, Size: 1, RemainingSize: 1, SizingPercent: 5,
		OpenedAt: testStart.Add(-time.Hour),
	}
	// вход не успел исполниться до падения
	xrp := &models.Position{Symbol: "XRPUSDT", Side: models.SideLong, State: models.PositionOpening, SizingPercent: 5}
	for _, p := range []*models.Position{btc, eth, xrp} {
		require.NoError(t, f.positions.SavePosition(ctx, p))
	}

	f.ex.positions["BTCUSDT"] = &exchange.Position{Symbol: "BTCUSDT", Side: models.SideLong, Size: 4, EntryPrice: 100}
	f.ex.positions["SOLUSDT"] = &exchange.Position{Symbol: "SOLUSDT", Side: models.SideLong, Size: 3, EntryPrice: 20}
	f.ex.SetPrice("ETHUSDT", 1900)
	f.ex.SetPrice("BTCUSDT", 101)
	f.ex.SetPrice("SOLUSDT", 20)

	riskStore := &memRiskStore{state: &models.RiskState{
		Mode:                    models.GateActive,
		TradingDay:              "2026-03-10",
		DailyTradeCount:         3,
		DailyRealizedPnLPercent: -1.5,
	}}

	ledgerStore := &memLedgerStore{ids: []string{"old-1", "old-2"}}
	ledger := NewLedger(100, ledgerStore, 0, nil)

	f.start(t)
	rm := NewRecoveryManager(RecoveryConfig{AdoptSizingPercent: 4}, f.engine, ledger, riskStore, f.positions, f.ex, nil)
	res, err := rm.Recover(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.LedgerEntries)
	assert.True(t, ledger.Contains("old-2"))
	assert.True(t, res.RiskStateRestored)
	assert.True(t, res.SameDayCounters)
	assert.Equal(t, []string{"BTCUSDT"}, res.Restored)
	assert.Equal(t, []string{"SOLUSDT"}, res.Adopted)
	assert.Equal(t, []string{"ETHUSDT"}, res.ClosedExternally)
	assert.Empty(t, res.Errors)

	p := f.engine.Position("BTCUSDT")
	require.NotNil(t, p)
	assert.Equal(t, models.PositionPartialExit, p.State)
	assert.Equal(t, 4.0, p.RemainingSize)
	assert.True(t, p.TakeProfitLevels[0].Triggered)

	sol := f.engine.Position("SOLUSDT")
	require.NotNil(t, sol)
	assert.Equal(t, models.PositionOpen, sol.State)
	assert.Equal(t, 4.0, sol.SizingPercent)

	eth2 := f.engine.Position("ETHUSDT")
	require.NotNil(t, eth2)
	assert.Equal(t, models.PositionClosed, eth2.State)
	assert.Equal(t, models.ReasonExternal, eth2.CloseReason)
	assert.Nil(t, f.positions.Get("ETHUSDT"))
	assert.Nil(t, f.positions.Get("XRPUSDT"))

	st := f.engine.RiskState()
	assert.Equal(t, 3, st.DailyTradeCount)
	// -1.5 из снимка и +5% по ETH short 2000 -> 1900
	assert.InDelta(t, 3.5, st.DailyRealizedPnLPercent, 1e-9)
	// BTC: 5% * 4/10 = 2%, SOL: 4%
	assert.InDelta(t, 6.0, st.TotalExposurePercent, 1e-9)

	f.waitNotification(t, models.NotificationTypeRecovery)

	// восстановленная позиция продолжает получать тики
	f.ex.SetPrice("BTCUSDT", 110)
	f.engine.OnPrice("BTCUSDT", 110)
	f.waitState(t, "BTCUSDT", models.PositionClosed)
}

func TestRecovery_HaltSurvivesRestart(t *testing.T) {
	f := newEngineFixture(t)
	riskStore := &memRiskStore{state: &models.RiskState{
		Mode:            models.GateHalted,
		HaltedReason:    "daily loss",
		TradingDay:      "2026-03-09",
		DailyTradeCount: 7,
	}}

	f.start(t)
	rm := NewRecoveryManager(RecoveryConfig{}, f.engine, NewLedger(10, nil, 0, nil), riskStore, nil, f.ex, nil)
	res, err := rm.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, res.SameDayCounters)

	st := f.engine.RiskState()
	assert.Equal(t, models.GateHalted, st.Mode)
	assert.Equal(t, 0, st.DailyTradeCount)
}

func TestRecovery_LedgerLoadFailureAborts(t *testing.T) {
	f := newEngineFixture(t)
	f.start(t)

	rm := NewRecoveryManager(RecoveryConfig{}, f.engine, NewLedger(10, failingLedgerStore{}, 0, nil), nil, nil, f.ex, nil)
	_, err := rm.Recover(context.Background())
	require.Error(t, err)
}

type failingLedgerStore struct{}

func (failingLedgerStore) Append(ctx context.Context, id string, at time.Time) error { return context.Canceled }
func (failingLedgerStore) LoadRecent(ctx context.Context, limit int) ([]string, error) {
	return nil, context.DeadlineExceeded
}
func (failingLedgerStore) Trim(ctx context.Context, keep int) error { return nil }

func TestRecovery_RebuildsLostDailyCounters(t *testing.T) {
	tests := []struct {
		name       string
		history    []*models.TradeRecord
		wantTrades int
		wantPnL    float64
		wantHalted bool
	}{
		{
			name: "снимок отстал от журнала сделок",
			history: []*models.TradeRecord{
				{Symbol: "ADAUSDT", RealizedPnLPercent: -2,
					OpenedAt: testStart.Add(-3 * time.Hour), ClosedAt: testStart.Add(-2 * time.Hour)},
				// открыта вчера, закрыта сегодня: PnL дня, но не сделка дня
				{Symbol: "DOTUSDT", RealizedPnLPercent: 0.5,
					OpenedAt: testStart.Add(-16 * time.Hour), ClosedAt: testStart.Add(-11 * time.Hour)},
				// закрыта вчера
				{Symbol: "XRPUSDT", RealizedPnLPercent: -3,
					OpenedAt: testStart.Add(-30 * time.Hour), ClosedAt: testStart.Add(-26 * time.Hour)},
			},
			// ADA + SOL, принятая с биржи; BTC открыта вчера
			wantTrades: 2,
			wantPnL:    -1.5,
		},
		{
			name: "потерянный убыток включает остановку",
			history: []*models.TradeRecord{
				{Symbol: "ADAUSDT", RealizedPnLPercent: -6,
					OpenedAt: testStart.Add(-3 * time.Hour), ClosedAt: testStart.Add(-2 * time.Hour)},
			},
			wantTrades: 2,
			wantPnL:    -6,
			wantHalted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()
			for _, rec := range tt.history {
				require.NoError(t, f.trades.SaveTrade(ctx, rec))
			}

			btc := &models.Position{
				Symbol: "BTCUSDT", Side: models.SideLong, State: models.PositionOpen,
				EntryPrice: 100, Size: 2, RemainingSize: 2, SizingPercent: 5, StopLossPrice: 97,
				OpenedAt: testStart.Add(-20 * time.Hour),
			}
			require.NoError(t, f.positions.SavePosition(ctx, btc))
			f.ex.positions["BTCUSDT"] = &exchange.Position{Symbol: "BTCUSDT", Side: models.SideLong, Size: 2, EntryPrice: 100}
			f.ex.positions["SOLUSDT"] = &exchange.Position{Symbol: "SOLUSDT", Side: models.SideLong, Size: 3, EntryPrice: 20}
			f.ex.SetPrice("BTCUSDT", 100)
			f.ex.SetPrice("SOLUSDT", 20)

			// последний сохраненный снимок сделан до обоих входов
			riskStore := &memRiskStore{state: &models.RiskState{
				Mode:       models.GateActive,
				TradingDay: "2026-03-10",
			}}

			f.start(t)
			rm := NewRecoveryManager(RecoveryConfig{}, f.engine, NewLedger(10, nil, 0, nil),
				riskStore, f.positions, f.ex, nil).WithTradeHistory(f.trades)
			res, err := rm.Recover(ctx)
			require.NoError(t, err)
			assert.Empty(t, res.Errors)
			assert.True(t, res.CountersTightened)

			st := f.engine.RiskState()
			assert.Equal(t, tt.wantTrades, st.DailyTradeCount)
			assert.InDelta(t, tt.wantPnL, st.DailyRealizedPnLPercent, 1e-9)
			if tt.wantHalted {
				assert.Equal(t, models.GateHalted, st.Mode)
			} else {
				assert.Equal(t, models.GateActive, st.Mode)
			}
		})
	}
}

func TestRecovery_CountersNeverLoosened(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.trades.SaveTrade(ctx, &models.TradeRecord{
		Symbol: "ADAUSDT", RealizedPnLPercent: 1,
		OpenedAt: testStart.Add(-3 * time.Hour), ClosedAt: testStart.Add(-2 * time.Hour),
	}))

	// снимок свежее журнала: запись сделки могла не сохраниться
	riskStore := &memRiskStore{state: &models.RiskState{
		Mode:                    models.GateActive,
		TradingDay:              "2026-03-10",
		DailyTradeCount:         4,
		DailyRealizedPnLPercent: -2,
	}}

	f.start(t)
	rm := NewRecoveryManager(RecoveryConfig{}, f.engine, NewLedger(10, nil, 0, nil),
		riskStore, nil, f.ex, nil).WithTradeHistory(f.trades)
	res, err := rm.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, res.CountersTightened)

	st := f.engine.RiskState()
	assert.Equal(t, 4, st.DailyTradeCount)
	assert.Equal(t, -2.0, st.DailyRealizedPnLPercent)
}

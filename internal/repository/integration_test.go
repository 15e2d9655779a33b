//go:build integration

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"confluencebot/internal/models"
)

// setupTestDB поднимает PostgreSQL в контейнере и применяет миграции.
// Запуск: go test -tags=integration ./internal/repository/...
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("confluence_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	// повторный запуск миграций безопасен
	require.NoError(t, Migrate(ctx, db))

	t.Cleanup(func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return db
}

func TestIntegration_Repositories(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("ledger keeps insertion order and trims", func(t *testing.T) {
		repo := NewLedgerRepository(db)
		for _, id := range []string{"a1", "a2", "a3", "a4", "a2"} {
			require.NoError(t, repo.Append(ctx, id, now))
		}

		ids, err := repo.LoadRecent(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, ids)

		require.NoError(t, repo.Trim(ctx, 2))
		ids, err = repo.LoadRecent(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a3", "a4"}, ids)
	})

	t.Run("risk state round trip", func(t *testing.T) {
		repo := NewRiskStateRepository(db)
		st, err := repo.LoadRiskState(ctx)
		require.NoError(t, err)
		assert.Nil(t, st)

		want := models.RiskState{Mode: models.GateHalted, HaltedReason: "daily loss", TradingDay: "2026-03-10", DailyTradeCount: 3}
		require.NoError(t, repo.SaveRiskState(ctx, want))
		want.DailyTradeCount = 4
		require.NoError(t, repo.SaveRiskState(ctx, want))

		got, err := repo.LoadRiskState(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.GateHalted, got.Mode)
		assert.Equal(t, 4, got.DailyTradeCount)
	})

	t.Run("position snapshots", func(t *testing.T) {
		repo := NewPositionRepository(db)
		p := &models.Position{Symbol: "BTCUSDT", Side: models.SideLong, State: models.PositionOpen,
			EntryPrice: 100, Size: 10, RemainingSize: 10, SizingPercent: 5, UpdatedAt: now}
		require.NoError(t, repo.SavePosition(ctx, p))
		p.RemainingSize = 5
		p.State = models.PositionPartialExit
		require.NoError(t, repo.SavePosition(ctx, p))

		list, err := repo.LoadPositions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 5.0, list[0].RemainingSize)

		require.NoError(t, repo.DeletePosition(ctx, "BTCUSDT"))
		_, err = repo.GetBySymbol(ctx, "BTCUSDT")
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})

	t.Run("trade summary", func(t *testing.T) {
		repo := NewTradeRepository(db)
		trades := []*models.TradeRecord{
			{ID: "t1", Symbol: "BTCUSDT", Side: "long", EntryPrice: 100, SizingPercent: 5, RealizedPnLPercent: 2, CloseReason: models.ReasonTakeProfit, OpenedAt: now, ClosedAt: now},
			{ID: "t2", Symbol: "ETHUSDT", Side: "short", EntryPrice: 2000, SizingPercent: 5, RealizedPnLPercent: -1, CloseReason: models.ReasonStopLoss, OpenedAt: now, ClosedAt: now},
		}
		for _, tr := range trades {
			require.NoError(t, repo.SaveTrade(ctx, tr))
		}

		s, err := repo.Summary(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, s.Trades)
		assert.Equal(t, 1, s.Wins)
		assert.InDelta(t, 1.0, s.TotalPnL, 1e-9)
		assert.Equal(t, 1, s.ByCloseReason[models.ReasonStopLoss])
	})

	t.Run("symbols and notifications", func(t *testing.T) {
		symbols := NewSymbolRepository(db)
		require.NoError(t, symbols.Upsert(ctx, &models.SymbolEntry{Symbol: "dogeusdt", Category: "meme", Excluded: true}))
		excluded, err := symbols.Excluded(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"DOGEUSDT"}, excluded)

		notifs := NewNotificationRepository(db)
		n := &models.Notification{Type: models.NotificationTypeHalted, Severity: models.SeverityError,
			Message: "halted", Meta: map[string]interface{}{"trigger_symbol": "ETHUSDT"}}
		require.NoError(t, notifs.Create(ctx, n))
		assert.NotZero(t, n.ID)

		list, err := notifs.GetByTypes(ctx, []string{models.NotificationTypeHalted}, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "ETHUSDT", list[0].Meta["trigger_symbol"])
	})
}

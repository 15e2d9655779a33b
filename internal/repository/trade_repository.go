package repository

import (
	"context"
	"database/sql"
	"time"

	"confluencebot/internal/models"
)

// TradeRepository - закрытые позиции (таблица trades) и агрегаты по ним
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// SaveTrade записывает итог закрытой позиции
func (r *TradeRepository) SaveTrade(ctx context.Context, t *models.TradeRecord) error {
	query := `
		INSERT INTO trades (id, symbol, side, entry_price, sizing_percent,
			realized_pnl_percent, close_reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.Symbol,
		t.Side,
		t.EntryPrice,
		t.SizingPercent,
		t.RealizedPnLPercent,
		t.CloseReason,
		t.OpenedAt,
		t.ClosedAt,
	)
	return err
}

// GetRecent возвращает последние limit сделок, новые первыми
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, symbol, side, entry_price, sizing_percent,
			realized_pnl_percent, close_reason, opened_at, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		t := &models.TradeRecord{}
		err := rows.Scan(
			&t.ID,
			&t.Symbol,
			&t.Side,
			&t.EntryPrice,
			&t.SizingPercent,
			&t.RealizedPnLPercent,
			&t.CloseReason,
			&t.OpenedAt,
			&t.ClosedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// Summary агрегирует сделки, закрытые начиная с from
func (r *TradeRepository) Summary(ctx context.Context, from time.Time) (*models.TradeSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE realized_pnl_percent > 0),
			COUNT(*) FILTER (WHERE realized_pnl_percent < 0),
			COALESCE(SUM(realized_pnl_percent), 0),
			COALESCE(MAX(realized_pnl_percent), 0),
			COALESCE(MIN(realized_pnl_percent), 0)
		FROM trades
		WHERE closed_at >= $1`

	s := &models.TradeSummary{From: from, ByCloseReason: make(map[string]int)}
	err := r.db.QueryRowContext(ctx, query, from).Scan(
		&s.Trades,
		&s.Wins,
		&s.Losses,
		&s.TotalPnL,
		&s.BestPnL,
		&s.WorstPnL,
	)
	if err != nil {
		return nil, err
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT close_reason, COUNT(*)
		FROM trades
		WHERE closed_at >= $1
		GROUP BY close_reason`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		s.ByCloseReason[reason] = count
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return s, nil
}

// DayActivity считает сделки, открытые и закрытые начиная с from.
// Используется при восстановлении дневных счетчиков гейта.
func (r *TradeRepository) DayActivity(ctx context.Context, from time.Time) (*models.DayActivity, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE opened_at >= $1),
			COUNT(*),
			COALESCE(SUM(realized_pnl_percent), 0)
		FROM trades
		WHERE closed_at >= $1`

	a := &models.DayActivity{}
	err := r.db.QueryRowContext(ctx, query, from).Scan(&a.Opened, &a.Closed, &a.RealizedPnLPercent)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteOlderThan удаляет сделки, закрытые раньше threshold
func (r *TradeRepository) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trades WHERE closed_at < $1`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

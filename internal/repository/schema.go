package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations применяются по порядку при старте; все идемпотентны
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS processed_alerts (
		seq         BIGSERIAL PRIMARY KEY,
		alert_id    TEXT NOT NULL UNIQUE,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		symbol     TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		data       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id                   TEXT PRIMARY KEY,
		symbol               TEXT NOT NULL,
		side                 TEXT NOT NULL,
		entry_price          DOUBLE PRECISION NOT NULL,
		sizing_percent       DOUBLE PRECISION NOT NULL,
		realized_pnl_percent DOUBLE PRECISION NOT NULL,
		close_reason         TEXT NOT NULL,
		opened_at            TIMESTAMPTZ NOT NULL,
		closed_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades (closed_at)`,
	`CREATE TABLE IF NOT EXISTS symbols (
		symbol     TEXT PRIMARY KEY,
		category   TEXT NOT NULL DEFAULT '',
		excluded   BOOLEAN NOT NULL DEFAULT FALSE,
		reason     TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id        SERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		type      TEXT NOT NULL,
		severity  TEXT NOT NULL,
		symbol    TEXT NOT NULL DEFAULT '',
		message   TEXT NOT NULL,
		meta      JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications (timestamp DESC)`,
}

// Migrate создает таблицы, если их еще нет
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

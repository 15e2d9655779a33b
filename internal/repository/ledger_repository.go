package repository

import (
	"context"
	"database/sql"
	"time"
)

// LedgerRepository - журнал обработанных alert ID (таблица processed_alerts).
// Порядок вставки задает seq, по нему же идет вытеснение.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository создает новый экземпляр репозитория
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append фиксирует ID; повторная вставка того же ID не ошибка
func (r *LedgerRepository) Append(ctx context.Context, alertID string, at time.Time) error {
	query := `
		INSERT INTO processed_alerts (alert_id, received_at)
		VALUES ($1, $2)
		ON CONFLICT (alert_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, alertID, at.UTC())
	return err
}

// LoadRecent возвращает последние limit ID от старых к новым
func (r *LedgerRepository) LoadRecent(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT alert_id FROM (
			SELECT alert_id, seq
			FROM processed_alerts
			ORDER BY seq DESC
			LIMIT $1
		) recent
		ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// Trim удаляет все записи кроме последних keep
func (r *LedgerRepository) Trim(ctx context.Context, keep int) error {
	query := `
		DELETE FROM processed_alerts
		WHERE seq <= (
			SELECT seq FROM processed_alerts
			ORDER BY seq DESC
			OFFSET $1 LIMIT 1
		)`

	_, err := r.db.ExecContext(ctx, query, keep)
	return err
}

// Count возвращает размер журнала
func (r *LedgerRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_alerts`).Scan(&count)
	return count, err
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"confluencebot/internal/models"
)

// RiskStateRepository - снимок риск-гейта, одна запись с id=1
type RiskStateRepository struct {
	db *sql.DB
}

// NewRiskStateRepository создает новый экземпляр репозитория
func NewRiskStateRepository(db *sql.DB) *RiskStateRepository {
	return &RiskStateRepository{db: db}
}

// LoadRiskState возвращает сохраненный снимок или nil, если его еще нет
func (r *RiskStateRepository) LoadRiskState(ctx context.Context) (*models.RiskState, error) {
	query := `SELECT state FROM risk_state WHERE id = 1`

	var raw []byte
	err := r.db.QueryRowContext(ctx, query).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	st := &models.RiskState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SaveRiskState перезаписывает снимок
func (r *RiskStateRepository) SaveRiskState(ctx context.Context, st models.RiskState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk_state (id, state, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query, raw, time.Now())
	return err
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"confluencebot/internal/models"
)

// ErrPositionNotFound - снапшота позиции по символу нет
var ErrPositionNotFound = errors.New("position snapshot not found")

// PositionRepository - снапшоты живых позиций (таблица positions).
// Одна строка на символ: у символа не бывает двух позиций.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// SavePosition сохраняет снапшот позиции поверх предыдущего
func (r *PositionRepository) SavePosition(ctx context.Context, p *models.Position) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO positions (symbol, state, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE
		SET state = EXCLUDED.state, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query, strings.ToUpper(p.Symbol), string(p.State), raw, p.UpdatedAt)
	return err
}

// DeletePosition удаляет снапшот; отсутствие записи не ошибка
func (r *PositionRepository) DeletePosition(ctx context.Context, symbol string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = $1`, strings.ToUpper(symbol))
	return err
}

// LoadPositions возвращает все снапшоты для восстановления после рестарта
func (r *PositionRepository) LoadPositions(ctx context.Context) ([]*models.Position, error) {
	query := `SELECT data FROM positions ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		p := &models.Position{}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// GetBySymbol возвращает снапшот позиции по символу
func (r *PositionRepository) GetBySymbol(ctx context.Context, symbol string) (*models.Position, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM positions WHERE symbol = $1`, strings.ToUpper(symbol)).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	p := &models.Position{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}

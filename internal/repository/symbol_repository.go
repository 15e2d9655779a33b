package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"confluencebot/internal/models"
)

// ErrSymbolNotFound - символа нет в реестре
var ErrSymbolNotFound = errors.New("symbol not found")

// SymbolRepository - реестр символов (таблица symbols): категория и исключение
type SymbolRepository struct {
	db *sql.DB
}

// NewSymbolRepository создает новый экземпляр репозитория
func NewSymbolRepository(db *sql.DB) *SymbolRepository {
	return &SymbolRepository{db: db}
}

// Upsert создает или обновляет запись реестра
func (r *SymbolRepository) Upsert(ctx context.Context, entry *models.SymbolEntry) error {
	query := `
		INSERT INTO symbols (symbol, category, excluded, reason, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE
		SET category = EXCLUDED.category,
			excluded = EXCLUDED.excluded,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at`

	entry.Symbol = strings.ToUpper(entry.Symbol) // Приводим к верхнему регистру для консистентности
	entry.Category = strings.ToLower(entry.Category)
	entry.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		entry.Symbol,
		entry.Category,
		entry.Excluded,
		entry.Reason,
		entry.UpdatedAt,
	)
	return err
}

// GetAll возвращает весь реестр
func (r *SymbolRepository) GetAll(ctx context.Context) ([]*models.SymbolEntry, error) {
	query := `
		SELECT symbol, category, excluded, reason, updated_at
		FROM symbols
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.SymbolEntry
	for rows.Next() {
		entry := &models.SymbolEntry{}
		err := rows.Scan(
			&entry.Symbol,
			&entry.Category,
			&entry.Excluded,
			&entry.Reason,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// GetBySymbol возвращает запись по символу
func (r *SymbolRepository) GetBySymbol(ctx context.Context, symbol string) (*models.SymbolEntry, error) {
	query := `
		SELECT symbol, category, excluded, reason, updated_at
		FROM symbols
		WHERE symbol = $1`

	entry := &models.SymbolEntry{}
	err := r.db.QueryRowContext(ctx, query, strings.ToUpper(symbol)).Scan(
		&entry.Symbol,
		&entry.Category,
		&entry.Excluded,
		&entry.Reason,
		&entry.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSymbolNotFound
		}
		return nil, err
	}

	return entry, nil
}

// Delete удаляет символ из реестра
func (r *SymbolRepository) Delete(ctx context.Context, symbol string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM symbols WHERE symbol = $1`, strings.ToUpper(symbol))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrSymbolNotFound
	}

	return nil
}

// Excluded возвращает символы, исключенные из торговли
func (r *SymbolRepository) Excluded(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol FROM symbols WHERE excluded ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return symbols, nil
}

package models

import "time"

// SymbolEntry - запись реестра символов, управляемая оператором.
// Задает категорию для лимитов экспозиции и исключение из торговли.
type SymbolEntry struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Category  string    `json:"category" db:"category"`
	Excluded  bool      `json:"excluded" db:"excluded"`
	Reason    string    `json:"reason" db:"reason"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

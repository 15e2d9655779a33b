package models

import "time"

// TradeRecord - итог закрытой позиции
type TradeRecord struct {
	ID                 string    `json:"id" db:"id"`
	Symbol             string    `json:"symbol" db:"symbol"`
	Side               string    `json:"side" db:"side"`
	EntryPrice         float64   `json:"entry_price" db:"entry_price"`
	SizingPercent      float64   `json:"sizing_percent" db:"sizing_percent"`
	RealizedPnLPercent float64   `json:"realized_pnl_percent" db:"realized_pnl_percent"`
	CloseReason        string    `json:"close_reason" db:"close_reason"`
	OpenedAt           time.Time `json:"opened_at" db:"opened_at"`
	ClosedAt           time.Time `json:"closed_at" db:"closed_at"`
}

// TradeSummary - агрегированная статистика за период
type TradeSummary struct {
	From          time.Time      `json:"from"`
	Trades        int            `json:"trades"`
	Wins          int            `json:"wins"`
	Losses        int            `json:"losses"`
	WinRate       float64        `json:"win_rate"`
	TotalPnL      float64        `json:"total_pnl_percent"`
	BestPnL       float64        `json:"best_pnl_percent"`
	WorstPnL      float64        `json:"worst_pnl_percent"`
	ByCloseReason map[string]int `json:"by_close_reason"`
}

// DayActivity - сделки торгового дня по журналу trades
type DayActivity struct {
	Opened             int     `json:"opened"` // открыты с начала дня
	Closed             int     `json:"closed"`
	RealizedPnLPercent float64 `json:"realized_pnl_percent"` // по закрытым с начала дня
}

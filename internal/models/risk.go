package models

import "time"

// GateMode - режим риск-гейта
type GateMode string

const (
	GateActive GateMode = "ACTIVE"
	GateHalted GateMode = "HALTED"
)

// ExposureStatus - статус занятого слота экспозиции
type ExposureStatus string

const (
	ExposureReserved ExposureStatus = "RESERVED" // одобрено, вход еще не исполнен
	ExposureOpen     ExposureStatus = "OPEN"
)

// Exposure - доля капитала, занятая позицией по символу
type Exposure struct {
	Symbol        string         `json:"symbol"`
	Category      string         `json:"category"`
	SizingPercent float64        `json:"sizing_percent"`
	Status        ExposureStatus `json:"status"`
}

// RiskState - снимок дневных счетчиков риск-гейта.
// Именно он сохраняется в БД, чтобы рестарт посреди дня не обнулил лимиты.
type RiskState struct {
	Seq                     uint64     `json:"seq"` // номер мутации гейта, растет монотонно
	Mode                    GateMode   `json:"mode"`
	HaltedReason            string     `json:"halted_reason,omitempty"`
	TradingDay              string     `json:"trading_day"` // YYYY-MM-DD в локали биржи
	DailyTradeCount         int        `json:"daily_trade_count"`
	DailyRealizedPnLPercent float64    `json:"daily_realized_pnl_percent"`
	EquityBase              float64    `json:"equity_base"`
	Exposures               []Exposure `json:"exposures"`
	TotalExposurePercent    float64    `json:"total_exposure_percent"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// Categories символов
const (
	CategoryMajor = "major"
	CategoryOther = "other"
)

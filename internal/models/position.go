package models

import "time"

// Направления позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// OppositeSide возвращает противоположное направление
func OppositeSide(side string) string {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}

// PositionState - состояние жизненного цикла позиции
type PositionState string

const (
	PositionOpening     PositionState = "OPENING"
	PositionOpen        PositionState = "OPEN"
	PositionPartialExit PositionState = "PARTIAL_EXIT"
	PositionClosed      PositionState = "CLOSED"
	PositionFailed      PositionState = "FAILED"
	PositionStale       PositionState = "STALE"
)

// Terminal - позиция больше не управляется автоматически
func (s PositionState) Terminal() bool {
	return s == PositionClosed || s == PositionFailed
}

// Live - позиция открыта на бирже и обрабатывает тики
func (s PositionState) Live() bool {
	return s == PositionOpen || s == PositionPartialExit
}

// Причины закрытия
const (
	ReasonStopLoss     = "stop_loss"
	ReasonTrailingStop = "trailing_stop"
	ReasonTakeProfit   = "take_profit"
	ReasonManual       = "manual"
	ReasonExternal     = "external" // позиция исчезла с биржи
)

// TakeProfitLevel - уровень частичной фиксации прибыли
type TakeProfitLevel struct {
	TriggerPercent float64 `json:"trigger_percent" yaml:"trigger_percent"`
	CloseFraction  float64 `json:"close_fraction" yaml:"close_fraction"`
	Triggered      bool    `json:"triggered" yaml:"-"`
}

// TrailingState - состояние трейлинг-стопа
type TrailingState struct {
	Enabled           bool    `json:"enabled"`
	Armed             bool    `json:"armed"`
	PeakPrice         float64 `json:"peak_price"`
	ActivationPercent float64 `json:"activation_percent"`
	CallbackPercent   float64 `json:"callback_percent"`
}

// ExitFill - исполненный выход из позиции
type ExitFill struct {
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Position - позиция, которой управляет один воркер символа
type Position struct {
	Symbol           string            `json:"symbol"`
	Side             string            `json:"side"`
	State            PositionState     `json:"state"`
	EntryPrice       float64           `json:"entry_price"`
	Size             float64           `json:"size"`
	RemainingSize    float64           `json:"remaining_size"`
	SizingPercent    float64           `json:"sizing_percent"`
	StopLossPrice    float64           `json:"stop_loss_price"`
	TakeProfitLevels []TakeProfitLevel `json:"take_profit_levels"`
	Trailing         TrailingState     `json:"trailing"`
	Exits            []ExitFill        `json:"exits,omitempty"`
	CandidateID      string            `json:"candidate_id,omitempty"`
	OpenedAt         time.Time         `json:"opened_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ClosedAt         *time.Time        `json:"closed_at,omitempty"`
	CloseReason      string            `json:"close_reason,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
}

// ClosedFraction - доля исходного размера, уже закрытая на бирже
func (p *Position) ClosedFraction() float64 {
	if p.Size <= 0 {
		return 0
	}
	return (p.Size - p.RemainingSize) / p.Size
}

// Clone возвращает глубокую копию (для снапшотов за пределами воркера)
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	cp.TakeProfitLevels = append([]TakeProfitLevel(nil), p.TakeProfitLevels...)
	cp.Exits = append([]ExitFill(nil), p.Exits...)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

package models

import "time"

// AlertType - тип рыночного алерта из upstream фида
type AlertType string

const (
	AlertAccumulation  AlertType = "ACCUMULATION"
	AlertDistribution  AlertType = "DISTRIBUTION"
	AlertHype          AlertType = "HYPE"
	AlertHypeIntensify AlertType = "HYPE_INTENSIFY"
	AlertAlphaInflow   AlertType = "ALPHA_INFLOW"
	AlertAlphaOutflow  AlertType = "ALPHA_OUTFLOW"
)

// AlertRole - роль алерта при поиске конфлюенции
type AlertRole int

const (
	RoleUnknown AlertRole = iota
	RoleHype              // HYPE, HYPE_INTENSIFY - несут интенсивность
	RoleFlow              // потоки капитала - определяют направление сделки
)

// Role возвращает роль типа алерта
func (t AlertType) Role() AlertRole {
	switch t {
	case AlertHype, AlertHypeIntensify:
		return RoleHype
	case AlertAccumulation, AlertDistribution, AlertAlphaInflow, AlertAlphaOutflow:
		return RoleFlow
	default:
		return RoleUnknown
	}
}

// Bias возвращает направление сделки, которое задает flow-алерт.
// Для hype-алертов возвращает пустую строку.
func (t AlertType) Bias() string {
	switch t {
	case AlertAccumulation, AlertAlphaInflow:
		return SideLong
	case AlertDistribution, AlertAlphaOutflow:
		return SideShort
	default:
		return ""
	}
}

// Valid - известен ли тип
func (t AlertType) Valid() bool {
	return t.Role() != RoleUnknown
}

// Complements проверяет что два типа образуют пару hype + flow
func (t AlertType) Complements(other AlertType) bool {
	a, b := t.Role(), other.Role()
	return (a == RoleHype && b == RoleFlow) || (a == RoleFlow && b == RoleHype)
}

// Alert - неизменяемый факт от upstream фида
type Alert struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"type"`
	Symbol    string                 `json:"symbol"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSONB в БД
}

// Типы уведомлений: одно сообщение на каждый переход состояния
const (
	NotificationTypeApproved     = "APPROVED"
	NotificationTypeRejected     = "REJECTED"
	NotificationTypeOpened       = "OPENED"
	NotificationTypeEntryFailed  = "ENTRY_FAILED"
	NotificationTypePartialExit  = "PARTIAL_EXIT"
	NotificationTypeStopLoss     = "STOP_LOSS"
	NotificationTypeTrailingStop = "TRAILING_STOP"
	NotificationTypeClosed       = "CLOSED"
	NotificationTypeStale        = "STALE"
	NotificationTypeHalted       = "HALTED"
	NotificationTypeResumed      = "RESUMED"
	NotificationTypeRecovery     = "RECOVERY"
	NotificationTypeDayReset     = "DAY_RESET"
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// SeverityForType возвращает уровень важности по умолчанию для типа
func SeverityForType(notifType string) string {
	switch notifType {
	case NotificationTypeStale, NotificationTypeHalted:
		return SeverityError
	case NotificationTypeEntryFailed, NotificationTypeStopLoss, NotificationTypeRecovery:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

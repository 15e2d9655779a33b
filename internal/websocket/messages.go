package websocket

import (
	"time"

	"confluencebot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeSnapshot - полное состояние, отправляется клиенту сразу после подключения
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeNotification - новое уведомление (переход состояния, решение гейта)
	MessageTypeNotification MessageType = "notification"

	// MessageTypePositionsUpdate - живые позиции, периодически пока есть клиенты
	MessageTypePositionsUpdate MessageType = "positionsUpdate"

	// MessageTypeRiskUpdate - снимок риск-гейта
	MessageTypeRiskUpdate MessageType = "riskUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// PositionsMessage - живые позиции движка
type PositionsMessage struct {
	BaseMessage
	Positions []*models.Position `json:"positions"`
}

// RiskMessage - снимок дневных счетчиков и экспозиции
type RiskMessage struct {
	BaseMessage
	Risk models.RiskState `json:"risk"`
}

// SnapshotMessage - начальное состояние для нового клиента
type SnapshotMessage struct {
	BaseMessage
	Risk      models.RiskState   `json:"risk"`
	Positions []*models.Position `json:"positions"`
}

// ============ Фабричные функции для создания сообщений ============

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UTC()}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: newBase(MessageTypeNotification),
		Data:        notif,
	}
}

// NewPositionsMessage создает сообщение со списком позиций
func NewPositionsMessage(positions []*models.Position) *PositionsMessage {
	if positions == nil {
		positions = []*models.Position{}
	}
	return &PositionsMessage{
		BaseMessage: newBase(MessageTypePositionsUpdate),
		Positions:   positions,
	}
}

// NewRiskMessage создает сообщение со снимком гейта
func NewRiskMessage(state models.RiskState) *RiskMessage {
	return &RiskMessage{
		BaseMessage: newBase(MessageTypeRiskUpdate),
		Risk:        state,
	}
}

// NewSnapshotMessage создает начальный снимок
func NewSnapshotMessage(state models.RiskState, positions []*models.Position) *SnapshotMessage {
	if positions == nil {
		positions = []*models.Position{}
	}
	return &SnapshotMessage{
		BaseMessage: newBase(MessageTypeSnapshot),
		Risk:        state,
		Positions:   positions,
	}
}

package websocket

import (
	"time"

	"sentinel/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeTickStatus - состояние планировщика и время последней
	// проверки по символам. Отправляется раз в тик монитора.
	MessageTypeTickStatus MessageType = "tickStatus"

	// MessageTypeSnapshot - свежий снимок индикаторов символа
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeDecision - решение риск-менеджера и исход исполнения.
	// Отправляется для каждого решения, кроме HOLD.
	MessageTypeDecision MessageType = "decision"

	// MessageTypeCrash - зафиксированный обвал цены
	MessageTypeCrash MessageType = "crash"

	// MessageTypeNotification - событие жизненного цикла позиции
	// (открытие, закрытие, принудительное закрытие, деградация, резерв)
	MessageTypeNotification MessageType = "notification"

	// MessageTypeLedgerUpdate - обновление счётчиков рисков после
	// подтверждённого закрытия сделки
	MessageTypeLedgerUpdate MessageType = "ledgerUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// TickStatusMessage - сообщение о состоянии планировщика
type TickStatusMessage struct {
	BaseMessage
	State     string               `json:"state"` // MONITOR_RUNNING | MONITOR_STALLED | FALLBACK_ACTIVE
	LastCheck map[string]time.Time `json:"last_check"`
}

// SnapshotMessage - сообщение со снимком индикаторов
type SnapshotMessage struct {
	BaseMessage
	Symbol string                   `json:"symbol"`
	Data   models.IndicatorSnapshot `json:"data"`
}

// DecisionMessage - сообщение о решении и его исполнении
type DecisionMessage struct {
	BaseMessage
	Symbol string                 `json:"symbol"`
	Data   models.ExecutionResult `json:"data"`
}

// CrashMessage - сообщение об обвале цены
type CrashMessage struct {
	BaseMessage
	Symbol string            `json:"symbol"`
	Data   models.CrashEvent `json:"data"`
}

// NotificationMessage - сообщение о событии жизненного цикла
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// LedgerUpdateMessage - сообщение со счётчиками рисков
type LedgerUpdateMessage struct {
	BaseMessage
	Data models.RiskLedger `json:"data"`
}

// ============================================================
// Фабрики сообщений
// ============================================================

// NewTickStatusMessage создаёт сообщение о состоянии планировщика
func NewTickStatusMessage(state string, lastCheck map[string]time.Time) *TickStatusMessage {
	return &TickStatusMessage{
		BaseMessage: BaseMessage{Type: MessageTypeTickStatus, Timestamp: time.Now().UTC()},
		State:       state,
		LastCheck:   lastCheck,
	}
}

// NewSnapshotMessage создаёт сообщение со снимком индикаторов
func NewSnapshotMessage(snap models.IndicatorSnapshot) *SnapshotMessage {
	return &SnapshotMessage{
		BaseMessage: BaseMessage{Type: MessageTypeSnapshot, Timestamp: time.Now().UTC()},
		Symbol:      snap.Symbol,
		Data:        snap,
	}
}

// NewDecisionMessage создаёт сообщение о решении
func NewDecisionMessage(result models.ExecutionResult) *DecisionMessage {
	return &DecisionMessage{
		BaseMessage: BaseMessage{Type: MessageTypeDecision, Timestamp: time.Now().UTC()},
		Symbol:      result.Decision.Symbol,
		Data:        result,
	}
}

// NewCrashMessage создаёт сообщение об обвале
func NewCrashMessage(ev models.CrashEvent) *CrashMessage {
	return &CrashMessage{
		BaseMessage: BaseMessage{Type: MessageTypeCrash, Timestamp: time.Now().UTC()},
		Symbol:      ev.Symbol,
		Data:        ev,
	}
}

// NewNotificationMessage создаёт сообщение о событии
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now().UTC()},
		Data:        notif,
	}
}

// NewLedgerUpdateMessage создаёт сообщение со счётчиками рисков
func NewLedgerUpdateMessage(ledger models.RiskLedger) *LedgerUpdateMessage {
	return &LedgerUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeLedgerUpdate, Timestamp: time.Now().UTC()},
		Data:        ledger,
	}
}

package models

import "time"

// Notification представляет уведомление о событии торгового ядра
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // OPEN, CLOSE, FORCED_CLOSE, CRASH, CEILING, DEGRADED, FALLBACK, ERROR
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOpen        = "OPEN"         // открытие позиции
	NotificationTypeClose       = "CLOSE"        // штатное закрытие
	NotificationTypeForcedClose = "FORCED_CLOSE" // принудительное закрытие
	NotificationTypeCrash       = "CRASH"        // обнаружен обвал цены
	NotificationTypeCeiling     = "CEILING"      // пробит потолок риска
	NotificationTypeDegraded    = "DEGRADED"     // деградация связи с площадкой
	NotificationTypeFallback    = "FALLBACK"     // переход на резервный цикл
	NotificationTypeError       = "ERROR"        // ошибка API/ордера
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

package models

import "time"

// Уровни серьёзности обвала
const (
	CrashSeverityLow      = "LOW"
	CrashSeverityMedium   = "MEDIUM"
	CrashSeverityHigh     = "HIGH"
	CrashSeverityCritical = "CRITICAL"
)

// CrashEvent - зафиксированное аномальное падение цены.
//
// Событие эфемерно: потребляется риск-менеджером в том же тике,
// опционально попадает в журнал и кольцо недавних событий для API,
// но никогда не хранится как мутируемое состояние.
type CrashEvent struct {
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"` // окно, в котором сработал детектор ("acceleration" для ускоренного падения)
	DropPercent float64   `json:"drop_percent"` // отрицательное значение, % от максимума окна
	Threshold   float64   `json:"threshold"`    // порог окна, %
	Severity    string    `json:"severity"`
	Score       float64   `json:"score"` // взвешенная оценка 0-1
	Reason      string    `json:"reason"`
	DetectedAt  time.Time `json:"detected_at"`
}

// SeverityRank возвращает числовой ранг серьёзности для сравнения.
func SeverityRank(s string) int {
	switch s {
	case CrashSeverityLow:
		return 1
	case CrashSeverityMedium:
		return 2
	case CrashSeverityHigh:
		return 3
	case CrashSeverityCritical:
		return 4
	default:
		return 0
	}
}

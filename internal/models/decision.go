package models

import "time"

// Действия решения риск-менеджера
const (
	ActionHold         = "HOLD"          // ничего не делать
	ActionOpen         = "OPEN"          // открыть позицию
	ActionScale        = "SCALE"         // увеличить позицию
	ActionPartialClose = "PARTIAL_CLOSE" // частичное закрытие (тейк-профит)
	ActionClose        = "CLOSE"         // штатное закрытие по сигналу/стопу
	ActionForcedClose  = "FORCED_CLOSE"  // принудительное закрытие (потолок риска, CRITICAL crash)
	ActionAdjustStop   = "ADJUST_STOP"   // передвинуть защитный стоп
)

// Исходы исполнения решения
const (
	OutcomeExecuted = "EXECUTED" // исполнено площадкой
	OutcomeRejected = "REJECTED" // отклонено площадкой, retry не выполняется
	OutcomeDegraded = "DEGRADED" // бюджет retry исчерпан, защитные ордера сохранены
	OutcomeSkipped  = "SKIPPED"  // решение не требовало действий
)

// Decision - решение риск-менеджера по символу на один тик.
//
// FORCED_CLOSE выделен отдельным действием, чтобы вызывающая сторона
// могла логировать и алертить пробой потолков отдельно от штатных
// закрытий по сигналу.
type Decision struct {
	Symbol        string    `json:"symbol"`
	Action        string    `json:"action"`
	Side          string    `json:"side,omitempty"` // сторона позиции для OPEN/SCALE
	Reason        string    `json:"reason"`
	Size          float64   `json:"size,omitempty"`            // объём для OPEN/SCALE/PARTIAL_CLOSE
	StopPrice     float64   `json:"stop_price,omitempty"`      // целевой стоп для ADJUST_STOP
	TakeProfitIdx int       `json:"take_profit_idx,omitempty"` // индекс сработавшего уровня TP
	CreatedAt     time.Time `json:"created_at"`
}

// RequiresVenue возвращает true, если решение требует обращения к площадке.
func (d *Decision) RequiresVenue() bool {
	return d.Action != ActionHold
}

// IsClose возвращает true для полных закрытий (штатных и принудительных).
func (d *Decision) IsClose() bool {
	return d.Action == ActionClose || d.Action == ActionForcedClose
}

// ExecutionResult - результат применения решения координатором.
type ExecutionResult struct {
	Decision   Decision  `json:"decision"`
	Outcome    string    `json:"outcome"`
	FilledQty  float64   `json:"filled_qty,omitempty"` // фактически исполненный объём
	AvgPrice   float64   `json:"avg_price,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

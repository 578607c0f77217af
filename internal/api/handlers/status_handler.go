package handlers

import (
	"net/http"
	"time"
)

// SchedulerStatus - доступ к состоянию планировщика, только для чтения.
type SchedulerStatus interface {
	State() string
	LastCheck(symbol string) time.Time
}

// DegradedChecker сообщает, находится ли исполнение по символу
// в деградированном режиме (исчерпан бюджет retry).
type DegradedChecker interface {
	Degraded(symbol string) bool
}

// SymbolStatus - состояние мониторинга одного символа.
type SymbolStatus struct {
	Symbol    string    `json:"symbol"`
	LastCheck time.Time `json:"last_check"`
	Degraded  bool      `json:"degraded"`
}

// StatusResponse - агрегированное состояние процесса.
type StatusResponse struct {
	State         string         `json:"state"` // MONITOR_RUNNING, MONITOR_STALLED, FALLBACK_ACTIVE
	UptimeSeconds float64        `json:"uptime_seconds"`
	Symbols       []SymbolStatus `json:"symbols"`
}

// StatusHandler обрабатывает HTTP запросы к состоянию процесса.
//
// Endpoints:
// - GET /api/v1/status - режим планировщика, время последней проверки
//   по каждому символу и флаги деградации исполнения
type StatusHandler struct {
	scheduler SchedulerStatus
	executor  DegradedChecker
	symbols   []string
	startedAt time.Time
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимостей.
func NewStatusHandler(scheduler SchedulerStatus, executor DegradedChecker, symbols []string) *StatusHandler {
	return &StatusHandler{
		scheduler: scheduler,
		executor:  executor,
		symbols:   symbols,
		startedAt: time.Now(),
	}
}

// GetStatus возвращает агрегированное состояние процесса.
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	{
//	  "state": "MONITOR_RUNNING",
//	  "uptime_seconds": 3600.5,
//	  "symbols": [
//	    {"symbol": "BTCUSDT", "last_check": "2026-08-31T10:15:00Z", "degraded": false}
//	  ]
//	}
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, http.StatusInternalServerError, "scheduler not initialized", "")
		return
	}

	resp := StatusResponse{
		State:         h.scheduler.State(),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Symbols:       make([]SymbolStatus, 0, len(h.symbols)),
	}

	for _, sym := range h.symbols {
		st := SymbolStatus{
			Symbol:    sym,
			LastCheck: h.scheduler.LastCheck(sym),
		}
		if h.executor != nil {
			st.Degraded = h.executor.Degraded(sym)
		}
		resp.Symbols = append(resp.Symbols, st)
	}

	writeJSON(w, http.StatusOK, resp)
}

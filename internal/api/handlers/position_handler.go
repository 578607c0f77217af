package handlers

import (
	"net/http"

	"sentinel/internal/models"

	"github.com/gorilla/mux"
)

// RiskReader - доступ к состоянию риск-менеджера, только для чтения.
type RiskReader interface {
	CurrentPosition(symbol string) (models.Position, bool)
	TrailingState(symbol string) (models.TrailingStopState, bool)
	LedgerSnapshot() models.RiskLedger
}

// PositionHandler обрабатывает HTTP запросы к состоянию позиций.
//
// Endpoints:
// - GET /api/v1/positions/{symbol} - открытая позиция по символу
// - GET /api/v1/trailing/{symbol} - состояние трейлинг-стопа по символу
// - GET /api/v1/risk/ledger - счётчики рисков (дневной убыток, серия убытков)
type PositionHandler struct {
	risk RiskReader
}

// NewPositionHandler создает новый PositionHandler с внедрением зависимостей.
func NewPositionHandler(risk RiskReader) *PositionHandler {
	return &PositionHandler{risk: risk}
}

// GetPosition возвращает открытую позицию по символу.
//
// GET /api/v1/positions/{symbol}
//
// Response 200 OK:
//
//	{
//	  "symbol": "BTCUSDT",
//	  "side": "long",
//	  "entry_price": 50000,
//	  "size": 0.01,
//	  "leverage": 10,
//	  "opened_at": "2026-08-31T10:00:00Z"
//	}
//
// Response 404 Not Found: позиция по символу не открыта.
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	if h.risk == nil {
		writeError(w, http.StatusInternalServerError, "risk manager not initialized", "")
		return
	}

	symbol := mux.Vars(r)["symbol"]
	pos, ok := h.risk.CurrentPosition(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no open position", symbol)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// GetTrailing возвращает состояние трейлинг-стопа по символу.
//
// GET /api/v1/trailing/{symbol}
//
// Response 200 OK:
//
//	{
//	  "symbol": "BTCUSDT",
//	  "side": "long",
//	  "entry_price": 50000,
//	  "stop_price": 50000,
//	  "phase": "BREAKEVEN",
//	  "highest_favorable": 51000,
//	  "milestone_idx": 0
//	}
//
// Response 404 Not Found: трейлинг не активен (нет позиции).
func (h *PositionHandler) GetTrailing(w http.ResponseWriter, r *http.Request) {
	if h.risk == nil {
		writeError(w, http.StatusInternalServerError, "risk manager not initialized", "")
		return
	}

	symbol := mux.Vars(r)["symbol"]
	ts, ok := h.risk.TrailingState(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no active trailing stop", symbol)
		return
	}

	writeJSON(w, http.StatusOK, ts)
}

// GetLedger возвращает текущие счётчики рисков.
//
// GET /api/v1/risk/ledger
//
// Response 200 OK:
//
//	{
//	  "daily_realized_loss": 35.5,
//	  "consecutive_loss_count": 2,
//	  "last_reset_day": "2026-08-31T00:00:00Z",
//	  "total_trades": 17,
//	  "total_pnl": -12.3
//	}
func (h *PositionHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	if h.risk == nil {
		writeError(w, http.StatusInternalServerError, "risk manager not initialized", "")
		return
	}

	writeJSON(w, http.StatusOK, h.risk.LedgerSnapshot())
}

package handlers

import (
	"net/http"
	"time"

	"sentinel/internal/models"

	"github.com/gorilla/mux"
)

// CrashReader - доступ к кольцу недавних событий детектора обвалов.
type CrashReader interface {
	RecentEvents(symbol string, since time.Time) []models.CrashEvent
}

// defaultCrashLookback возвращает события за последние сутки, если
// клиент не передал параметр since.
const defaultCrashLookback = 24 * time.Hour

// CrashHandler обрабатывает HTTP запросы к истории обвалов.
//
// Endpoints:
// - GET /api/v1/crashes/{symbol}?since=RFC3339 - недавние события обвалов
type CrashHandler struct {
	detector CrashReader
}

// NewCrashHandler создает новый CrashHandler с внедрением зависимостей.
func NewCrashHandler(detector CrashReader) *CrashHandler {
	return &CrashHandler{detector: detector}
}

// GetCrashes возвращает недавние события обвалов по символу.
//
// GET /api/v1/crashes/{symbol}?since=2026-08-31T00:00:00Z
//
// Query Parameters:
// - since (optional): RFC3339 метка времени; по умолчанию - сутки назад
//
// Response 200 OK:
//
//	[
//	  {
//	    "symbol": "BTCUSDT",
//	    "timeframe": "1h",
//	    "drop_percent": -2.5,
//	    "threshold": 2.5,
//	    "severity": "MEDIUM",
//	    "score": 0.45,
//	    "detected_at": "2026-08-31T10:15:00Z"
//	  }
//	]
//
// Response 400 Bad Request: невалидный формат since.
func (h *CrashHandler) GetCrashes(w http.ResponseWriter, r *http.Request) {
	if h.detector == nil {
		writeError(w, http.StatusInternalServerError, "crash detector not initialized", "")
		return
	}

	symbol := mux.Vars(r)["symbol"]

	since := time.Now().Add(-defaultCrashLookback)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter, expected RFC3339", err.Error())
			return
		}
		since = parsed
	}

	events := h.detector.RecentEvents(symbol, since)
	if events == nil {
		events = []models.CrashEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}

package api

import (
	"net/http"

	"sentinel/internal/api/handlers"
	"sentinel/internal/api/middleware"
	"sentinel/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Risk      handlers.RiskReader
	Detector  handlers.CrashReader
	Scheduler handlers.SchedulerStatus
	Executor  handlers.DegradedChecker
	Hub       *websocket.Hub

	Symbols []string
	// bcrypt-хэш API токена; пустая строка отключает аутентификацию
	TokenHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (token auth)
//
//	├── GET /status - режим планировщика и состояние символов
//	├── GET /positions/{symbol} - открытая позиция
//	├── GET /trailing/{symbol} - состояние трейлинг-стопа
//	├── GET /crashes/{symbol}?since= - недавние события обвалов
//	└── GET /risk/ledger - счётчики рисков
//
// /ws/stream - WebSocket для real-time обновлений
// /health - проверка живости (без auth)
// /metrics - Prometheus метрики (без auth)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. TokenAuth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil {
		api.Use(middleware.TokenAuth(deps.TokenHash))
	}

	if deps != nil && deps.Risk != nil {
		positionHandler := handlers.NewPositionHandler(deps.Risk)
		api.HandleFunc("/positions/{symbol}", positionHandler.GetPosition).Methods("GET")
		api.HandleFunc("/trailing/{symbol}", positionHandler.GetTrailing).Methods("GET")
		api.HandleFunc("/risk/ledger", positionHandler.GetLedger).Methods("GET")
	}

	if deps != nil && deps.Detector != nil {
		crashHandler := handlers.NewCrashHandler(deps.Detector)
		api.HandleFunc("/crashes/{symbol}", crashHandler.GetCrashes).Methods("GET")
	}

	if deps != nil && deps.Scheduler != nil {
		statusHandler := handlers.NewStatusHandler(deps.Scheduler, deps.Executor, deps.Symbols)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	}

	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}

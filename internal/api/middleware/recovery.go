package middleware

import (
	"net/http"
	"runtime/debug"

	"sentinel/pkg/utils"

	"go.uber.org/zap"
)

// Recovery - middleware восстановления после паники в handlers.
//
// Перехватывает panic, логирует stack trace и возвращает клиенту
// 500 без деталей паники. Сервер продолжает обслуживать запросы.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.L().Error("panic in http handler",
					utils.Component("api"),
					zap.Any("panic", err),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

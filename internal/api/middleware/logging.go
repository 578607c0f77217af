package middleware

import (
	"net/http"
	"time"

	"sentinel/pkg/utils"

	"go.uber.org/zap"
)

// responseWriter оборачивает http.ResponseWriter для захвата
// статус-кода и размера ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logging - middleware структурированного логирования HTTP запросов.
//
// Пишет метод, путь, статус, латентность, адрес клиента и размер
// ответа. Запросы к /health и /metrics логируются на уровне Debug,
// чтобы не зашумлять лог периодическими проверками.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		fields := []zap.Field{
			utils.Component("api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
			zap.Int64("bytes", wrapped.written),
		}

		switch {
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			utils.L().Debug("http request", fields...)
		case wrapped.statusCode >= http.StatusInternalServerError:
			utils.L().Error("http request", fields...)
		default:
			utils.L().Info("http request", fields...)
		}
	})
}

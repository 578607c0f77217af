package middleware

import (
	"net/http"
	"strings"

	"sentinel/pkg/crypto"
	"sentinel/pkg/utils"

	"github.com/gorilla/mux"
)

// TokenAuth - middleware аутентификации по статическому API токену.
//
// Токен передаётся в заголовке Authorization: Bearer <token> и
// сверяется с bcrypt-хэшем, вычисленным из API_TOKEN при старте.
// Сам токен в памяти процесса не хранится.
//
// Пустой хэш означает, что API_TOKEN не задан: аутентификация
// отключена (локальное развертывание), о чём предупреждает лог
// при старте сервера.
func TokenAuth(tokenHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				unauthorized(w, "missing authorization token")
				return
			}

			if !crypto.CheckTokenMatch(token, tokenHash) {
				utils.L().Warn("rejected request with invalid api token",
					utils.Component("api"),
				)
				unauthorized(w, "invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

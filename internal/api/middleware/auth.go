package middleware

import (
	"net/http"

	"statarb/pkg/crypto"
	"statarb/pkg/utils"
)

// TokenAuth защищает мутирующие ручки ops API (kill switch).
//
// Токен передается как "Authorization: Bearer <token>" и сверяется с
// bcrypt хэшем из API_TOKEN_HASH. Пустой хэш закрывает ручки полностью:
// без настроенного токена переключить торговлю через HTTP нельзя.
func TokenAuth(tokenHash string, logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	logger = logger.WithComponent("api_auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				writeError(w, http.StatusForbidden, "api token is not configured")
				return
			}

			token, ok := crypto.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="statarb"`)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				logger.Warn("rejected api token",
					utils.Event("api_auth_failed"),
					utils.String("path", r.URL.Path),
					utils.String("remote_addr", r.RemoteAddr),
					utils.Err(err),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="statarb"`)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"statarb/pkg/utils"
)

// Recovery перехватывает panic в handler, логирует stack trace и отвечает 500.
// Детали паники клиенту не отдаются.
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	logger = logger.WithComponent("api")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler",
						utils.Event("api_panic"),
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						utils.String("panic", fmt.Sprint(rec)),
						utils.String("stack", string(debug.Stack())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

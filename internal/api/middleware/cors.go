package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// defaultOrigins - dev фронтенд, если ALLOWED_ORIGINS не задан
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5173", // Vite dev server
	"http://127.0.0.1:5173",
}

// CORS оборачивает роутер в rs/cors.
//
// Credentials разрешены, поэтому "*" не допускается: в ответ уходит
// конкретный origin из списка. Preflight (OPTIONS) обрабатывается здесь
// и до роутера не доходит.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" && o != "*" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
	return c.Handler
}

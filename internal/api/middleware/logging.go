package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"statarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// responseWriter запоминает статус и размер ответа
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

// Hijack нужен апгрейду /ws/stream
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Logging пишет одну строку zap на запрос: метод, путь, статус, длительность
func Logging(logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	logger = logger.WithComponent("api")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				utils.Event("api_request"),
				utils.String("method", r.Method),
				utils.String("path", r.URL.Path),
				utils.HTTPStatus(wrapped.statusCode),
				utils.Latency(float64(time.Since(start).Microseconds())/1000),
				utils.String("remote_addr", r.RemoteAddr),
				utils.Int64("bytes", wrapped.written),
			)
		})
	}
}

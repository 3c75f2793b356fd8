package broker

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики HTTP клиента брокера
// ============================================================

// RequestDuration - длительность одной попытки запроса
var RequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "statarb",
		Subsystem: "broker",
		Name:      "request_duration_seconds",
		Help:      "Duration of a single broker HTTP attempt in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	},
	[]string{"method", "status"},
)

// RetriesTotal - повторы по причине (HTTP статус или network)
var RetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "broker",
		Name:      "retries_total",
		Help:      "Total number of retried broker requests by reason",
	},
	[]string{"method", "reason"},
)

// DeadLettersTotal - запросы, исчерпавшие попытки
var DeadLettersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "broker",
		Name:      "dead_letters_total",
		Help:      "Total number of broker requests written to the dead letter sink",
	},
	[]string{"method"},
)

// DeadLetterWriteErrors - не удалось записать dead letter
var DeadLetterWriteErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "broker",
		Name:      "dead_letter_write_errors_total",
		Help:      "Total number of failed dead letter writes",
	},
)

func statusLabel(code int) string {
	if code == 0 {
		return "network"
	}
	return strconv.Itoa(code)
}

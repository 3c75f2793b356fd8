package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики ядра исполнения
// ============================================================
//
// Использование:
// - Grafana: исходы ног и пар по прогонам
// - Alertmanager: компенсации и блокировки риска

// ============ Ноги ============

// LegsTotal - исходы исполнения ног
var LegsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "legs_total",
		Help:      "Leg executions by outcome",
	},
	[]string{"mode", "outcome"},
)

// LegLatency - время исполнения ноги с учетом повторов
var LegLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "leg_duration_seconds",
		Help:      "Time spent executing one leg",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
	},
	[]string{"outcome"},
)

// StatusRegressions - брокер вернул статус, в который нельзя перейти
var StatusRegressions = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "status_regressions_total",
		Help:      "Reconciliations where the broker status moved backwards",
	},
)

// LedgerWriteErrors - неудачные записи в журнал ордеров
var LedgerWriteErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "ledger_write_errors_total",
		Help:      "Order ledger upserts that failed after a broker call",
	},
)

// ============ Пары ============

// PairOutcomes - исходы обработки сигналов пар
var PairOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "pair_outcomes_total",
		Help:      "Pair signal outcomes",
	},
	[]string{"mode", "outcome"},
)

// RiskBlocks - блокировки риск-гейтом по правилу
var RiskBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "risk",
		Name:      "blocks_total",
		Help:      "Risk gate violations by rule",
	},
	[]string{"rule"},
)

// Compensations - исходы компенсации второй ноги
var Compensations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "compensations_total",
		Help:      "Compensation attempts by result",
	},
	[]string{"result"}, // canceled, flattened, failed, unverified
)

// ============ Прогоны ============

// RunsTotal - завершенные прогоны
var RunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "runs_total",
		Help:      "Execution runs by result",
	},
	[]string{"mode", "result"},
)

// OrdersPerRun - новые ордера за прогон
var OrdersPerRun = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "orders_per_run",
		Help:      "New broker orders submitted per run",
		Buckets:   []float64{0, 1, 2, 4, 6, 8, 10, 20},
	},
)

// TradingEnabled - состояние kill switch (1 - торговля разрешена)
var TradingEnabled = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "statarb",
		Subsystem: "exec",
		Name:      "trading_enabled",
		Help:      "Kill switch state, 1 when new submissions are allowed",
	},
)

// ruleOf возвращает имя правила из причины блокировки ("data_stale age_seconds=3" → "data_stale")
func ruleOf(reason string) string {
	for i := 0; i < len(reason); i++ {
		if reason[i] == ' ' {
			return reason[:i]
		}
	}
	return reason
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

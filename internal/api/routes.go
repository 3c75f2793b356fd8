package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statarb/internal/api/handlers"
	"statarb/internal/api/middleware"
	"statarb/pkg/utils"
)

// Dependencies - все зависимости ops API. nil поле отключает свои маршруты.
type Dependencies struct {
	Orders      handlers.OrderReader
	DeadLetters handlers.DeadLetterReader // только при DEAD_LETTER_SINK=db
	KillSwitch  handlers.KillSwitch
	Notifier    handlers.KillSwitchNotifier
	WebSocket   http.HandlerFunc

	APITokenHash   string
	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает маршруты ops API
//
// Структура маршрутов:
//
//	/health                       - GET, liveness
//	/metrics                      - GET, Prometheus
//	/api/v1/orders                - GET ?limit=
//	/api/v1/orders/{id}           - GET по client_order_id
//	/api/v1/runs/{run_id}/orders  - GET записи прогона
//	/api/v1/dead-letters          - GET ?limit=
//	/api/v1/kill-switch           - GET; POST под TokenAuth
//	/ws/stream                    - WebSocket поток событий исполнения
//
// Middleware: Recovery → Logging для всех маршрутов; CORS оборачивает
// роутер целиком (см. Handler), TokenAuth только на POST kill-switch.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Orders != nil {
		orderHandler := handlers.NewOrderHandler(deps.Orders)
		api.HandleFunc("/orders", orderHandler.GetOrders).Methods(http.MethodGet)
		api.HandleFunc("/orders/{client_order_id}", orderHandler.GetOrder).Methods(http.MethodGet)
		api.HandleFunc("/runs/{run_id}/orders", orderHandler.GetRunOrders).Methods(http.MethodGet)
	}

	if deps.DeadLetters != nil {
		deadLetterHandler := handlers.NewDeadLetterHandler(deps.DeadLetters)
		api.HandleFunc("/dead-letters", deadLetterHandler.GetDeadLetters).Methods(http.MethodGet)
	}

	if deps.KillSwitch != nil {
		killSwitchHandler := handlers.NewKillSwitchHandler(deps.KillSwitch, deps.Notifier, logger)
		api.HandleFunc("/kill-switch", killSwitchHandler.GetKillSwitch).Methods(http.MethodGet)
		api.Handle("/kill-switch",
			middleware.TokenAuth(deps.APITokenHash, logger)(http.HandlerFunc(killSwitchHandler.SetKillSwitch)),
		).Methods(http.MethodPost)
	}

	if deps.WebSocket != nil {
		router.HandleFunc("/ws/stream", deps.WebSocket).Methods(http.MethodGet)
	}

	return router
}

// Handler - роутер, обернутый в CORS; это отдается http.Server
func Handler(deps *Dependencies) http.Handler {
	var origins []string
	if deps != nil {
		origins = deps.AllowedOrigins
	}
	return middleware.CORS(origins)(SetupRoutes(deps))
}

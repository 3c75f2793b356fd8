package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"statarb/internal/models"
	"statarb/internal/repository"
)

// OrderReader - чтение журнала ордеров (repository.OrderRepository)
type OrderReader interface {
	GetRecent(ctx context.Context, limit int) ([]*models.OrderRecord, error)
	GetByClientOrderID(ctx context.Context, clientOrderID string) (*models.OrderRecord, error)
	GetByRun(ctx context.Context, runID string) ([]*models.OrderRecord, error)
}

// OrderHandler отдает журнал ордеров
//
// Endpoints:
// - GET /api/v1/orders?limit=50 - последние записи, новые первыми
// - GET /api/v1/orders/{client_order_id} - одна запись по ключу идемпотентности
// - GET /api/v1/runs/{run_id}/orders - записи, созданные прогоном
type OrderHandler struct {
	orders OrderReader
}

// NewOrderHandler создает OrderHandler
func NewOrderHandler(orders OrderReader) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// GetOrdersResponse - ответ списка ордеров
type GetOrdersResponse struct {
	Orders []*models.OrderRecord `json:"orders"`
	Total  int                   `json:"total"`
}

// GetOrders возвращает последние записи журнала
//
// HTTP коды:
// - 200 OK
// - 500 Internal Server Error: ошибка БД
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.GetRecent(r.Context(), parseLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get orders: "+err.Error())
		return
	}
	if orders == nil {
		orders = []*models.OrderRecord{}
	}

	respondWithJSON(w, http.StatusOK, GetOrdersResponse{Orders: orders, Total: len(orders)})
}

// GetOrder возвращает запись по client_order_id
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: ключа нет в журнале
// - 500 Internal Server Error: ошибка БД
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["client_order_id"]
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "client_order_id is required")
		return
	}

	order, err := h.orders.GetByClientOrderID(r.Context(), key)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "order not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to get order: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, order)
}

// GetRunOrders возвращает записи, созданные прогоном, в порядке вставки.
// Неизвестный run_id - пустой список, не 404.
func (h *OrderHandler) GetRunOrders(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	if runID == "" {
		respondWithError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	orders, err := h.orders.GetByRun(r.Context(), runID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get run orders: "+err.Error())
		return
	}
	if orders == nil {
		orders = []*models.OrderRecord{}
	}

	respondWithJSON(w, http.StatusOK, GetOrdersResponse{Orders: orders, Total: len(orders)})
}

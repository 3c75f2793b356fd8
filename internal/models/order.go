package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord - строка журнала ордеров (orders).
// Ключ - детерминированный ClientOrderID; BrokerOrderID пуст, пока брокер
// не принял ордер.
type OrderRecord struct {
	ID            int64           `json:"id" db:"id"`
	ClientOrderID string          `json:"client_order_id" db:"client_order_id"`
	BrokerOrderID string          `json:"broker_order_id,omitempty" db:"alpaca_order_id"`
	PairID        int             `json:"pair_id,omitempty" db:"pair_id"`
	Leg           string          `json:"leg,omitempty" db:"leg"` // A, B, A_flatten
	Symbol        string          `json:"symbol" db:"symbol"`
	Side          string          `json:"side" db:"side"` // buy, sell
	Quantity      decimal.Decimal `json:"qty" db:"qty"`
	FilledQty     decimal.Decimal `json:"filled_qty" db:"filled_qty"`
	OrderType     string          `json:"order_type" db:"order_type"`       // market
	TimeInForce   string          `json:"time_in_force" db:"time_in_force"` // day
	Status        string          `json:"status" db:"status"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty" db:"submitted_at"`
	Raw           json.RawMessage `json:"raw,omitempty" db:"raw"` // ответ брокера как есть
	RunID         string          `json:"run_id,omitempty" db:"run_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Opposite возвращает противоположную сторону
func Opposite(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Статусы ордера в жизненном цикле
const (
	OrderStatusSubmitted       = "submitted"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
	OrderStatusExpired         = "expired"
	OrderStatusDoneForDay      = "done_for_day"

	// Локальные пометки, брокер их не присылает
	OrderStatusBlocked           = "blocked"
	OrderStatusExistingOpenOrder = "existing_open_order"
)

// Статусы, которые брокер присылает для еще не исполненного ордера
const (
	BrokerStatusNew                = "new"
	BrokerStatusAccepted           = "accepted"
	BrokerStatusPendingNew         = "pending_new"
	BrokerStatusAcceptedForBidding = "accepted_for_bidding"
	BrokerStatusPendingCancel      = "pending_cancel"
	BrokerStatusPendingReplace     = "pending_replace"
	BrokerStatusReplaced           = "replaced"
	BrokerStatusHeld               = "held"
)

package models

import "time"

// LegEvent - итог исполнения одной ноги
type LegEvent struct {
	RunID         string    `json:"run_id"`
	Mode          string    `json:"mode"`
	PairID        int       `json:"pair_id"`
	Leg           string    `json:"leg"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           string    `json:"qty"`
	ClientOrderID string    `json:"client_order_id"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	Outcome       string    `json:"outcome"` // submitted_new, fetch_existing, ...
	Status        string    `json:"status,omitempty"`
	FilledQty     string    `json:"filled_qty,omitempty"`
	Timestamp     time.Time `json:"ts"`
}

// PairEvent - итог обработки сигнала пары
type PairEvent struct {
	RunID           string    `json:"run_id"`
	Mode            string    `json:"mode"`
	PairID          int       `json:"pair_id"`
	Action          string    `json:"action"`
	Outcome         string    `json:"outcome"` // executed, blocked, no_action, trading_disabled, failed
	Reasons         []string  `json:"reasons,omitempty"`
	OrdersSubmitted int       `json:"orders_submitted"`
	PartialLegs     []string  `json:"partial_legs,omitempty"`
	Compensated     bool      `json:"compensated,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"ts"`
}

// RunSummary - итог прогона
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Mode            string        `json:"mode"`
	TradingEnabled  bool          `json:"trading_enabled"`
	Pairs           int           `json:"pairs"`
	Executed        int           `json:"executed"`
	Blocked         int           `json:"blocked"`
	NoAction        int           `json:"no_action"`
	Failed          int           `json:"failed"`
	OrdersSubmitted int           `json:"orders_submitted"`
	Duration        time.Duration `json:"duration_ns"`
	StartedAt       time.Time     `json:"started_at"`
}

package broker

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OrderRequest - тело POST /v2/orders. Qty уходит строкой.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	TimeInForce   string          `json:"time_in_force"`
	ClientOrderID string          `json:"client_order_id"`
}

// Order - ордер в том виде, в каком его вернул брокер.
//
// Известные поля разобраны в типизированные, все остальные лежат в Extra
// без изменений; Raw - исходное тело целиком (пишется в журнал).
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           string
	Type           string
	TimeInForce    string
	Status         string
	Qty            decimal.Decimal
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.NullDecimal
	SubmittedAt    *time.Time
	Extra          map[string]jsoniter.RawMessage
	Raw            []byte
}

// UnmarshalJSON разбирает известные поля и складывает остальное в Extra
func (o *Order) UnmarshalJSON(data []byte) error {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*o = Order{Raw: append([]byte(nil), data...)}

	take := func(key string, dst interface{}) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		delete(fields, key)
		if string(raw) == "null" {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}

	var submittedAt time.Time
	steps := []struct {
		key string
		dst interface{}
	}{
		{"id", &o.ID},
		{"client_order_id", &o.ClientOrderID},
		{"symbol", &o.Symbol},
		{"side", &o.Side},
		{"type", &o.Type},
		{"time_in_force", &o.TimeInForce},
		{"status", &o.Status},
		{"qty", &o.Qty},
		{"filled_qty", &o.FilledQty},
		{"filled_avg_price", &o.FilledAvgPrice},
		{"submitted_at", &submittedAt},
	}
	for _, s := range steps {
		if err := take(s.key, s.dst); err != nil {
			return err
		}
	}

	if !submittedAt.IsZero() {
		o.SubmittedAt = &submittedAt
	}
	if len(fields) > 0 {
		o.Extra = fields
	}
	return nil
}

// IsOpen - ордер еще может исполниться
func (o *Order) IsOpen() bool {
	switch o.Status {
	case "filled", "canceled", "expired", "rejected", "done_for_day", "replaced", "stopped", "suspended":
		return false
	}
	return true
}

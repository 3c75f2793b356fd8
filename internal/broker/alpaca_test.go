package broker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const sampleOrder = `{
	"id": "61e69015-8549-4bfd-b9c3-01e75843f47d",
	"client_order_id": "sa-p3-20260302T150000-A-0123456789abcdef",
	"symbol": "AAPL",
	"side": "buy",
	"type": "market",
	"time_in_force": "day",
	"status": "partially_filled",
	"qty": "5",
	"filled_qty": "2",
	"filled_avg_price": "187.31",
	"submitted_at": "2026-03-02T15:00:01.123456Z",
	"asset_class": "us_equity",
	"extended_hours": false
}`

func newAlpacaServer(t *testing.T, handler http.HandlerFunc) (*Alpaca, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	c := newTestClient(server.URL, 1, &memorySink{}, &sleepRecorder{})
	return NewAlpaca(c), server.Close
}

func TestOrder_UnmarshalJSON(t *testing.T) {
	var o Order
	if err := json.Unmarshal([]byte(sampleOrder), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if o.ID != "61e69015-8549-4bfd-b9c3-01e75843f47d" || o.Status != "partially_filled" {
		t.Errorf("order = %+v", o)
	}
	if !o.Qty.Equal(decimal.NewFromInt(5)) || !o.FilledQty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("qty = %s, filled = %s", o.Qty, o.FilledQty)
	}
	if !o.FilledAvgPrice.Valid || o.FilledAvgPrice.Decimal.String() != "187.31" {
		t.Errorf("filled_avg_price = %+v", o.FilledAvgPrice)
	}
	if o.SubmittedAt == nil || o.SubmittedAt.Second() != 1 {
		t.Errorf("submitted_at = %v", o.SubmittedAt)
	}
	if _, ok := o.Extra["asset_class"]; !ok {
		t.Errorf("unknown fields should land in Extra: %v", o.Extra)
	}
	if _, ok := o.Extra["status"]; ok {
		t.Error("known fields must not be duplicated in Extra")
	}
	if len(o.Raw) == 0 {
		t.Error("Raw should keep the payload")
	}
	if !o.IsOpen() {
		t.Error("partially filled order is still open")
	}
}

func TestOrder_UnmarshalJSON_NullsAndNumbers(t *testing.T) {
	var o Order
	err := json.Unmarshal([]byte(`{"id":"x","qty":3,"filled_qty":null,"submitted_at":null,"status":"filled"}`), &o)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !o.Qty.Equal(decimal.NewFromInt(3)) || !o.FilledQty.IsZero() || o.SubmittedAt != nil {
		t.Errorf("order = %+v", o)
	}
	if o.IsOpen() {
		t.Error("filled order is not open")
	}
}

func TestAlpacaSubmitOrder(t *testing.T) {
	var body string
	a, done := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Write([]byte(sampleOrder))
	})
	defer done()

	o, err := a.SubmitOrder(context.Background(), OrderRequest{
		Symbol:        "AAPL",
		Qty:           decimal.NewFromInt(5),
		Side:          "buy",
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: "sa-p3-20260302T150000-A-0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ClientOrderID != "sa-p3-20260302T150000-A-0123456789abcdef" {
		t.Errorf("client id = %s", o.ClientOrderID)
	}
	if !strings.Contains(body, `"qty":"5"`) || !strings.Contains(body, `"time_in_force":"day"`) {
		t.Errorf("request body = %s", body)
	}
}

func TestAlpacaSubmitOrder_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		duplicate  bool
		washTrade  bool
		existingID string
	}{
		{
			name:      "duplicate client order id",
			status:    http.StatusUnprocessableEntity,
			body:      `{"code":40010001,"message":"client_order_id must be unique"}`,
			duplicate: true,
		},
		{
			name:       "wash trade",
			status:     http.StatusForbidden,
			body:       `{"code":40310000,"message":"potential wash trade detected. use complex orders","existing_order_id":"b-77"}`,
			washTrade:  true,
			existingID: "b-77",
		},
		{
			name:   "insufficient buying power",
			status: http.StatusForbidden,
			body:   `{"code":40310000,"message":"insufficient buying power"}`,
		},
		{
			name:   "plain text body",
			status: http.StatusUnprocessableEntity,
			body:   `qty must be > 0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, done := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			defer done()

			_, err := a.SubmitOrder(context.Background(), OrderRequest{Symbol: "AAPL", Qty: decimal.NewFromInt(1)})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("status = %d", apiErr.StatusCode)
			}
			if apiErr.IsDuplicateClientOrderID() != tt.duplicate {
				t.Errorf("IsDuplicateClientOrderID = %v", apiErr.IsDuplicateClientOrderID())
			}
			if apiErr.IsWashTrade() != tt.washTrade {
				t.Errorf("IsWashTrade = %v", apiErr.IsWashTrade())
			}
			if apiErr.ExistingOrderID != tt.existingID {
				t.Errorf("ExistingOrderID = %q", apiErr.ExistingOrderID)
			}
			if apiErr.Message == "" {
				t.Error("message should not be empty")
			}
		})
	}
}

func TestAlpacaGetOrderByClientID(t *testing.T) {
	a, done := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders:by_client_order_id" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("client_order_id") != "key-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(sampleOrder))
	})
	defer done()

	o, err := a.GetOrderByClientID(context.Background(), "key-1")
	if err != nil || o.Symbol != "AAPL" {
		t.Fatalf("got %+v, %v", o, err)
	}

	_, err = a.GetOrderByClientID(context.Background(), "other")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestAlpacaGetOrder_NotFound(t *testing.T) {
	a, done := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders/missing" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	})
	defer done()

	_, err := a.GetOrder(context.Background(), "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestAlpacaListOpenOrders(t *testing.T) {
	a, done := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "open" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[` + sampleOrder + `,{"id":"b-2","symbol":"MSFT","status":"new","qty":"1"}]`))
	})
	defer done()

	orders, err := a.ListOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 || orders[1].Symbol != "MSFT" {
		t.Errorf("orders = %+v", orders)
	}
}

func TestAlpacaCancelOrder(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  bool
		notFound bool
	}{
		{name: "accepted", status: http.StatusNoContent},
		{name: "already filled", status: http.StatusUnprocessableEntity, body: `{"code":42210000,"message":"order is not cancelable"}`, wantErr: true},
		{name: "unknown", status: http.StatusNotFound, wantErr: true, notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, done := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete || r.URL.Path != "/v2/orders/b-1" {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			defer done()

			err := a.CancelOrder(context.Background(), "b-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrOrderNotFound) != tt.notFound {
				t.Errorf("ErrOrderNotFound mismatch: %v", err)
			}
		})
	}
}

func TestAlpacaRequestTagsReachDeadLetter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := &memorySink{}
	a := NewAlpaca(newTestClient(server.URL, 0, sink, &sleepRecorder{}))

	ctx := WithRequestTags(context.Background(), map[string]interface{}{"pair_id": 9})
	ctx = WithRequestTags(ctx, map[string]interface{}{"leg": "B"})

	_, err := a.GetOrder(ctx, "b-1")
	var ex *ExhaustedRetriesError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedRetriesError, got %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("dead letters = %d", sink.count())
	}
	tags := sink.records[0].Context
	if tags["pair_id"] != 9 || tags["leg"] != "B" {
		t.Errorf("context tags = %v", tags)
	}
}

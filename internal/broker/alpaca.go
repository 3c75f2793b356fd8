package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"statarb/internal/models"
)

// AuthHeaders - заголовки авторизации Alpaca
func AuthHeaders(apiKey, apiSecret string) map[string]string {
	return map[string]string{
		"APCA-API-KEY-ID":     apiKey,
		"APCA-API-SECRET-KEY": apiSecret,
	}
}

// Alpaca - адаптер REST API v2 поверх устойчивого клиента
type Alpaca struct {
	client *Client
}

// NewAlpaca создает адаптер
func NewAlpaca(client *Client) *Alpaca {
	return &Alpaca{client: client}
}

// WithRun возвращает адаптер, привязанный к прогону
func (a *Alpaca) WithRun(run models.RunInfo) *Alpaca {
	return &Alpaca{client: a.client.WithRun(run)}
}

// SubmitOrder подает ордер
func (a *Alpaca) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	resp, err := a.send(ctx, Request{Method: http.MethodPost, Endpoint: "/v2/orders", Body: body})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, newAPIError(http.MethodPost, "/v2/orders", resp.StatusCode, resp.Body)
	}

	return decodeOrder(resp)
}

// GetOrder возвращает ордер по id брокера
func (a *Alpaca) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	endpoint := "/v2/orders/" + url.PathEscape(orderID)

	resp, err := a.send(ctx, Request{Method: http.MethodGet, Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: id %s", ErrOrderNotFound, orderID)
	}
	if !resp.OK() {
		return nil, newAPIError(http.MethodGet, endpoint, resp.StatusCode, resp.Body)
	}

	return decodeOrder(resp)
}

// GetOrderByClientID возвращает ордер по client_order_id
func (a *Alpaca) GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	const endpoint = "/v2/orders:by_client_order_id"

	resp, err := a.send(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: endpoint,
		Params:   url.Values{"client_order_id": {clientOrderID}},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: client id %s", ErrOrderNotFound, clientOrderID)
	}
	if !resp.OK() {
		return nil, newAPIError(http.MethodGet, endpoint, resp.StatusCode, resp.Body)
	}

	return decodeOrder(resp)
}

// ListOpenOrders возвращает открытые ордера
func (a *Alpaca) ListOpenOrders(ctx context.Context) ([]*Order, error) {
	const endpoint = "/v2/orders"

	resp, err := a.send(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: endpoint,
		Params:   url.Values{"status": {"open"}, "limit": {"500"}},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, newAPIError(http.MethodGet, endpoint, resp.StatusCode, resp.Body)
	}

	var orders []*Order
	if err := resp.Decode(&orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// CancelOrder запрашивает отмену ордера
func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := "/v2/orders/" + url.PathEscape(orderID)

	resp, err := a.send(ctx, Request{Method: http.MethodDelete, Endpoint: endpoint})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: id %s", ErrOrderNotFound, orderID)
	}
	if !resp.OK() {
		return newAPIError(http.MethodDelete, endpoint, resp.StatusCode, resp.Body)
	}
	return nil
}

func (a *Alpaca) send(ctx context.Context, req Request) (*Response, error) {
	req.Context = RequestTags(ctx)
	return a.client.Send(ctx, req)
}

func decodeOrder(resp *Response) (*Order, error) {
	var o Order
	if err := resp.Decode(&o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if o.ID == "" {
		return nil, errors.New("decode order: missing id")
	}
	return &o, nil
}

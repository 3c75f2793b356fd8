package broker

import "context"

// Broker - операции с ордерами, которые нужны исполнителю
type Broker interface {
	// SubmitOrder подает ордер. Отказы брокера приходят как *APIError.
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// GetOrder возвращает ордер по id брокера (ErrOrderNotFound, если нет)
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// GetOrderByClientID возвращает ордер по client_order_id
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error)

	// ListOpenOrders - все открытые ордера счета
	ListOpenOrders(ctx context.Context) ([]*Order, error)

	// CancelOrder запрашивает отмену. Уже исполненный ордер дает *APIError (422).
	CancelOrder(ctx context.Context, orderID string) error
}

type tagsKey struct{}

// WithRequestTags прикрепляет к контексту теги, которые клиент запишет
// в логи повторов и в dead letter
func WithRequestTags(ctx context.Context, tags map[string]interface{}) context.Context {
	merged := make(map[string]interface{}, len(tags))
	for k, v := range RequestTags(ctx) {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return context.WithValue(ctx, tagsKey{}, merged)
}

// RequestTags возвращает теги из контекста (nil, если их нет)
func RequestTags(ctx context.Context) map[string]interface{} {
	tags, _ := ctx.Value(tagsKey{}).(map[string]interface{})
	return tags
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"statarb/internal/broker"
	"statarb/internal/models"
	"statarb/internal/repository"
)

// ============================================================
// fakeBroker - брокер в памяти
// ============================================================

type fakeBroker struct {
	mu       sync.Mutex
	orders   map[string]*broker.Order // по id брокера
	byClient map[string]string        // client_order_id → id брокера
	nextID   int

	submitted []broker.OrderRequest
	canceled  []string
	gets      int

	// submitErr позволяет отказать в подаче конкретного ордера
	submitErr func(req broker.OrderRequest) error
	// afterSubmit меняет сохраненный ордер после ответа (исполнение у брокера)
	afterSubmit func(o *broker.Order)
	// onCancel - реакция на отмену; nil = ордер отменяется без исполнения
	onCancel func(o *broker.Order) error

	open    []*broker.Order
	listErr error
	getErr  error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{orders: map[string]*broker.Order{}, byClient: map[string]string{}}
}

func (b *fakeBroker) SubmitOrder(_ context.Context, req broker.OrderRequest) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.submitted = append(b.submitted, req)
	if b.submitErr != nil {
		if err := b.submitErr(req); err != nil {
			return nil, err
		}
	}
	if _, dup := b.byClient[req.ClientOrderID]; dup {
		return nil, &broker.APIError{
			Method:     http.MethodPost,
			Endpoint:   "/v2/orders",
			StatusCode: http.StatusUnprocessableEntity,
			Message:    "client_order_id must be unique",
		}
	}

	b.nextID++
	now := time.Date(2026, 3, 2, 15, 0, 1, 0, time.UTC)
	o := &broker.Order{
		ID:            fmt.Sprintf("b-%d", b.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Status:        "accepted",
		Qty:           req.Qty,
		FilledQty:     decimal.Zero,
		SubmittedAt:   &now,
	}
	o.Raw = []byte(fmt.Sprintf(`{"id":%q,"client_order_id":%q}`, o.ID, o.ClientOrderID))
	b.orders[o.ID] = o
	b.byClient[req.ClientOrderID] = o.ID

	resp := *o
	if b.afterSubmit != nil {
		b.afterSubmit(o)
	}
	return &resp, nil
}

func (b *fakeBroker) GetOrder(_ context.Context, id string) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gets++
	if b.getErr != nil {
		return nil, b.getErr
	}
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", broker.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (b *fakeBroker) GetOrderByClientID(_ context.Context, clientOrderID string) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gets++
	if b.getErr != nil {
		return nil, b.getErr
	}
	id, ok := b.byClient[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: client id %s", broker.ErrOrderNotFound, clientOrderID)
	}
	cp := *b.orders[id]
	return &cp, nil
}

func (b *fakeBroker) ListOpenOrders(context.Context) ([]*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open, b.listErr
}

func (b *fakeBroker) CancelOrder(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.canceled = append(b.canceled, id)
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %s", broker.ErrOrderNotFound, id)
	}
	if b.onCancel != nil {
		return b.onCancel(o)
	}
	o.Status = "canceled"
	return nil
}

func (b *fakeBroker) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submitted)
}

// netQty - суммарная подписанная экспозиция по исполненным объемам символа
func (b *fakeBroker) netQty(symbol string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	net := decimal.Zero
	for _, o := range b.orders {
		if o.Symbol != symbol {
			continue
		}
		if o.Side == models.SideBuy {
			net = net.Add(o.FilledQty)
		} else {
			net = net.Sub(o.FilledQty)
		}
	}
	return net
}

// fillImmediately исполняет каждый ордер целиком сразу после подачи
func fillImmediately(o *broker.Order) {
	o.Status = "filled"
	o.FilledQty = o.Qty
}

// ============================================================
// fakeLedger - журнал ордеров в памяти с семантикой upsert
// ============================================================

type fakeLedger struct {
	mu        sync.Mutex
	rows      map[string]*models.OrderRecord
	upserts   int
	getErr    error
	upsertErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]*models.OrderRecord{}}
}

func (l *fakeLedger) GetByClientOrderID(_ context.Context, key string) (*models.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.getErr != nil {
		return nil, l.getErr
	}
	row, ok := l.rows[key]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *row
	return &cp, nil
}

func (l *fakeLedger) Upsert(_ context.Context, rec *models.OrderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.upserts++
	if l.upsertErr != nil {
		return l.upsertErr
	}

	row, ok := l.rows[rec.ClientOrderID]
	if !ok {
		cp := *rec
		l.rows[rec.ClientOrderID] = &cp
		return nil
	}
	if rec.BrokerOrderID != "" {
		row.BrokerOrderID = rec.BrokerOrderID
	}
	row.Status = rec.Status
	row.FilledQty = rec.FilledQty
	if rec.SubmittedAt != nil {
		row.SubmittedAt = rec.SubmittedAt
	}
	if rec.Raw != nil {
		row.Raw = rec.Raw
	}
	return nil
}

func (l *fakeLedger) row(key string) *models.OrderRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows[key]
}

// ============================================================
// Цены, позиции, пары, сигналы
// ============================================================

type fakePrices struct {
	points map[string]*models.PricePoint
	err    error
	calls  int
}

func (p *fakePrices) LatestPrices(_ context.Context, symbols []string) (map[string]*models.PricePoint, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]*models.PricePoint)
	for _, s := range symbols {
		if pt, ok := p.points[s]; ok {
			out[s] = pt
		}
	}
	return out, nil
}

func pricesAt(ts time.Time, closes map[string]float64) *fakePrices {
	p := &fakePrices{points: map[string]*models.PricePoint{}}
	for sym, c := range closes {
		p.points[sym] = &models.PricePoint{Symbol: sym, TS: ts, Close: c}
	}
	return p
}

type fakePositions struct {
	positions []*models.Position
	err       error
}

func (p *fakePositions) GetAll(context.Context) ([]*models.Position, error) {
	return p.positions, p.err
}

type fakePairs struct {
	pairs []*models.Pair
	err   error
}

func (p *fakePairs) GetEnabled(context.Context, int) ([]*models.Pair, error) {
	return p.pairs, p.err
}

type fakeSignals struct {
	signals map[int]*models.Signal
	err     error
}

func (s *fakeSignals) LatestForPairs(context.Context, []int) (map[int]*models.Signal, error) {
	return s.signals, s.err
}

// ============================================================
// recordingPublisher - собирает события
// ============================================================

type recordingPublisher struct {
	mu    sync.Mutex
	legs  []*models.LegEvent
	pairs []*models.PairEvent
	runs  []*models.RunSummary
}

func (p *recordingPublisher) BroadcastLegEvent(ev *models.LegEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.legs = append(p.legs, ev)
}

func (p *recordingPublisher) BroadcastPairEvent(ev *models.PairEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs = append(p.pairs, ev)
}

func (p *recordingPublisher) BroadcastRunSummary(s *models.RunSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, s)
}

// ============================================================
// Ошибки брокера
// ============================================================

func exhaustedErr(endpoint string) error {
	return &broker.ExhaustedRetriesError{
		Method:     http.MethodPost,
		Endpoint:   endpoint,
		Attempts:   7,
		LastStatus: http.StatusServiceUnavailable,
		Err:        errors.New("HTTP 503"),
	}
}

func washTradeErr(existingID string) error {
	return &broker.APIError{
		Method:          http.MethodPost,
		Endpoint:        "/v2/orders",
		StatusCode:      http.StatusForbidden,
		Message:         "potential wash trade detected. use complex orders",
		ExistingOrderID: existingID,
	}
}

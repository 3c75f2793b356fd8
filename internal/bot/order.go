package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"statarb/internal/broker"
	"statarb/internal/models"
	"statarb/internal/repository"
	"statarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LegMode - исход исполнения ноги
type LegMode string

// Исходы ноги. Ни один из них не является ошибкой.
const (
	LegModeSubmittedNew             LegMode = "submitted_new"
	LegModeFetchExisting            LegMode = "fetch_existing"
	LegModeBlockedExistingOpenOrder LegMode = "blocked_existing_open_order"
	LegModeTradingDisabled          LegMode = "trading_disabled"
)

// OrderLedger - журнал ордеров (repository.OrderRepository)
type OrderLedger interface {
	// GetByClientOrderID возвращает repository.ErrOrderNotFound, если ключа нет
	GetByClientOrderID(ctx context.Context, clientOrderID string) (*models.OrderRecord, error)
	Upsert(ctx context.Context, order *models.OrderRecord) error
}

// LegRequest - параметры одной ноги
type LegRequest struct {
	PairID               int
	DecisionTS           time.Time
	Action               string
	LegLabel             string // A, B, A_flatten
	Symbol               string
	Quantity             decimal.Decimal
	Side                 string
	OrdersSubmittedSoFar int
}

// LegResult - итог ноги
type LegResult struct {
	Mode          LegMode
	ClientOrderID string
	BrokerOrderID string // для blocked - ордер, на который указал брокер
	Status        string
	FilledQty     decimal.Decimal
}

// LegExecutor подает одну ногу идемпотентно.
//
// Повтор того же решения никогда не подает ордер заново: сначала журнал,
// потом брокер. Дубль ключа и wash trade у брокера - ожидаемые исходы,
// а не ошибки.
type LegExecutor struct {
	broker         broker.Broker
	ledger         OrderLedger
	logger         *utils.Logger
	run            models.RunInfo
	tradingEnabled bool
	orderType      string
	timeInForce    string
}

// LegExecutorConfig - параметры исполнителя на один прогон
type LegExecutorConfig struct {
	Run            models.RunInfo
	TradingEnabled bool // снимок kill switch на начало прогона
	OrderType      string
	TimeInForce    string
}

// NewLegExecutor создает исполнителя ног
func NewLegExecutor(b broker.Broker, ledger OrderLedger, cfg LegExecutorConfig, logger *utils.Logger) *LegExecutor {
	if cfg.OrderType == "" {
		cfg.OrderType = "market"
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "day"
	}
	if logger == nil {
		logger = utils.L()
	}

	return &LegExecutor{
		broker:         b,
		ledger:         ledger,
		logger:         logger.WithComponent("leg_executor").WithRun(cfg.Run.RunID, cfg.Run.Mode),
		run:            cfg.Run,
		tradingEnabled: cfg.TradingEnabled,
		orderType:      cfg.OrderType,
		timeInForce:    cfg.TimeInForce,
	}
}

// ExecuteLeg исполняет ногу.
// Ошибка возвращается только если брокер или журнал отказали так, что
// исход неизвестен; все остальные ветки - это LegResult.
func (e *LegExecutor) ExecuteLeg(ctx context.Context, req LegRequest) (LegResult, error) {
	start := time.Now()
	key := BuildClientOrderID(req.PairID, req.DecisionTS, req.Action, req.LegLabel, req.Symbol)

	ctx = broker.WithRequestTags(ctx, map[string]interface{}{
		"pair_id":         req.PairID,
		"leg":             req.LegLabel,
		"symbol":          req.Symbol,
		"client_order_id": key,
	})
	log := e.logger.With(
		utils.PairID(req.PairID),
		utils.Leg(req.LegLabel),
		utils.Symbol(req.Symbol),
		utils.ClientOrderID(key),
	)

	res, err := e.executeLeg(ctx, req, key, log)

	outcome := string(res.Mode)
	if err != nil {
		outcome = "error"
	}
	LegsTotal.WithLabelValues(e.run.Mode, outcome).Inc()
	LegLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return res, err
}

func (e *LegExecutor) executeLeg(ctx context.Context, req LegRequest, key string, log *utils.Logger) (LegResult, error) {
	log.Info("leg decision",
		utils.Event("exec_decision_start"),
		utils.Action(req.Action),
		utils.Side(req.Side),
		utils.Quantity(req.Quantity.String()),
	)

	// 1. журнал - главная гарантия идемпотентности
	existing, err := e.ledger.GetByClientOrderID(ctx, key)
	switch {
	case err == nil:
		return e.reconcile(ctx, req, existing, log)
	case !errors.Is(err, repository.ErrOrderNotFound):
		return LegResult{ClientOrderID: key}, fmt.Errorf("ledger lookup %s: %w", key, err)
	}

	// 2. kill switch: без брокера и без записи в журнал
	if !e.tradingEnabled {
		log.Info("trading disabled, leg skipped", utils.Event("exec_kill_switch_block"))
		return LegResult{Mode: LegModeTradingDisabled, ClientOrderID: key}, nil
	}

	// 3. новая заявка
	order, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:        req.Symbol,
		Qty:           req.Quantity,
		Side:          req.Side,
		Type:          e.orderType,
		TimeInForce:   e.timeInForce,
		ClientOrderID: key,
	})
	if err != nil {
		var apiErr *broker.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.IsDuplicateClientOrderID():
				// 4. брокер уже принял ключ, а журнал не успел записать
				return e.recoverDuplicate(ctx, req, key, log)
			case apiErr.IsWashTrade():
				// 5. встречный открытый ордер
				return e.blockWashTrade(ctx, req, key, apiErr, log)
			}
		}

		log.Error("leg submission failed", utils.Event("exec_submit_failed"), utils.Err(err))
		return LegResult{ClientOrderID: key}, fmt.Errorf("submit leg %s %s: %w", req.LegLabel, req.Symbol, err)
	}

	// 6. успех
	e.persist(ctx, e.recordFromOrder(req, key, order), log)
	log.Info("leg submitted",
		utils.Event("exec_submitted"),
		utils.OrderID(order.ID),
		utils.Side(req.Side),
		utils.Status(order.Status),
	)

	return LegResult{
		Mode:          LegModeSubmittedNew,
		ClientOrderID: key,
		BrokerOrderID: order.ID,
		Status:        order.Status,
		FilledQty:     order.FilledQty,
	}, nil
}

// Recorded - есть ли в журнале нога с ключом запроса. Брокер не вызывается.
func (e *LegExecutor) Recorded(ctx context.Context, req LegRequest) (bool, error) {
	key := BuildClientOrderID(req.PairID, req.DecisionTS, req.Action, req.LegLabel, req.Symbol)
	_, err := e.ledger.GetByClientOrderID(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrOrderNotFound):
		return false, nil
	}
	return false, fmt.Errorf("ledger lookup %s: %w", key, err)
}

// reconcile освежает уже известную журналу ногу
func (e *LegExecutor) reconcile(ctx context.Context, req LegRequest, existing *models.OrderRecord, log *utils.Logger) (LegResult, error) {
	key := existing.ClientOrderID
	log.Info("ledger has the leg, fetching broker view",
		utils.Event("exec_fetch_existing"),
		utils.OrderID(existing.BrokerOrderID),
		utils.Status(existing.Status),
	)

	var (
		order *broker.Order
		err   error
	)
	if existing.BrokerOrderID != "" {
		order, err = e.broker.GetOrder(ctx, existing.BrokerOrderID)
	} else {
		order, err = e.broker.GetOrderByClientID(ctx, key)
	}

	if errors.Is(err, broker.ErrOrderNotFound) {
		// у брокера ордера под этим ключом нет (blocked / existing_open_order)
		return LegResult{
			Mode:          LegModeFetchExisting,
			ClientOrderID: key,
			BrokerOrderID: existing.BrokerOrderID,
			Status:        existing.Status,
			FilledQty:     existing.FilledQty,
		}, nil
	}
	if err != nil {
		log.Error("failed to fetch existing order", utils.Event("exec_fetch_failed"), utils.Err(err))
		return LegResult{ClientOrderID: key}, fmt.Errorf("fetch existing %s: %w", key, err)
	}

	if !CanTransition(existing.Status, order.Status) {
		StatusRegressions.Inc()
		log.Warn("broker status moved backwards",
			utils.Event("ledger_status_regression"),
			utils.String("from", existing.Status),
			utils.String("to", order.Status),
		)
	}

	e.persist(ctx, e.recordFromOrder(req, key, order), log)

	return LegResult{
		Mode:          LegModeFetchExisting,
		ClientOrderID: key,
		BrokerOrderID: order.ID,
		Status:        order.Status,
		FilledQty:     order.FilledQty,
	}, nil
}

func (e *LegExecutor) recoverDuplicate(ctx context.Context, req LegRequest, key string, log *utils.Logger) (LegResult, error) {
	log.Warn("broker already has client order id", utils.Event("exec_duplicate_client_id"))

	order, err := e.broker.GetOrderByClientID(ctx, key)
	if err != nil {
		log.Error("failed to fetch duplicate order", utils.Event("exec_fetch_failed"), utils.Err(err))
		return LegResult{ClientOrderID: key}, fmt.Errorf("fetch duplicate %s: %w", key, err)
	}

	e.persist(ctx, e.recordFromOrder(req, key, order), log)

	return LegResult{
		Mode:          LegModeFetchExisting,
		ClientOrderID: key,
		BrokerOrderID: order.ID,
		Status:        order.Status,
		FilledQty:     order.FilledQty,
	}, nil
}

// blockWashTrade пишет под нашим ключом пометку existing_open_order.
// Чужой ордер целиком уходит в raw; его id в строку не пишется, чтобы
// сверка не приписала нам чужие исполнения.
func (e *LegExecutor) blockWashTrade(ctx context.Context, req LegRequest, key string, apiErr *broker.APIError, log *utils.Logger) (LegResult, error) {
	audit := map[string]interface{}{
		"reason":            "wash_trade",
		"message":           apiErr.Message,
		"existing_order_id": apiErr.ExistingOrderID,
	}

	if apiErr.ExistingOrderID != "" {
		other, err := e.broker.GetOrder(ctx, apiErr.ExistingOrderID)
		switch {
		case err != nil:
			log.Warn("failed to fetch conflicting order", utils.OrderID(apiErr.ExistingOrderID), utils.Err(err))
		case len(other.Raw) > 0:
			audit["existing_order"] = jsoniter.RawMessage(other.Raw)
		}
	}

	raw, err := json.Marshal(audit)
	if err != nil {
		raw = nil
	}

	e.persist(ctx, &models.OrderRecord{
		ClientOrderID: key,
		PairID:        req.PairID,
		Leg:           req.LegLabel,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		FilledQty:     decimal.Zero,
		OrderType:     e.orderType,
		TimeInForce:   e.timeInForce,
		Status:        models.OrderStatusExistingOpenOrder,
		Raw:           raw,
		RunID:         e.run.RunID,
	}, log)

	log.Warn("leg blocked by existing open order",
		utils.Event("exec_blocked_existing_open_order"),
		utils.OrderID(apiErr.ExistingOrderID),
		utils.String("message", apiErr.Message),
	)

	return LegResult{
		Mode:          LegModeBlockedExistingOpenOrder,
		ClientOrderID: key,
		BrokerOrderID: apiErr.ExistingOrderID,
		Status:        models.OrderStatusExistingOpenOrder,
		FilledQty:     decimal.Zero,
	}, nil
}

// persist пишет запись в журнал. Ошибка записи не отменяет исход у брокера:
// повторный прогон восстановит строку через дубль client_order_id.
func (e *LegExecutor) persist(ctx context.Context, rec *models.OrderRecord, log *utils.Logger) {
	if err := e.ledger.Upsert(ctx, rec); err != nil {
		LedgerWriteErrors.Inc()
		log.Error("failed to write order ledger",
			utils.Event("ledger_write_failed"),
			utils.OrderID(rec.BrokerOrderID),
			utils.Status(rec.Status),
			utils.Err(err),
		)
	}
}

func (e *LegExecutor) recordFromOrder(req LegRequest, key string, o *broker.Order) *models.OrderRecord {
	rec := &models.OrderRecord{
		ClientOrderID: key,
		BrokerOrderID: o.ID,
		PairID:        req.PairID,
		Leg:           req.LegLabel,
		Symbol:        firstNonEmpty(o.Symbol, req.Symbol),
		Side:          firstNonEmpty(o.Side, req.Side),
		Quantity:      o.Qty,
		FilledQty:     o.FilledQty,
		OrderType:     firstNonEmpty(o.Type, e.orderType),
		TimeInForce:   firstNonEmpty(o.TimeInForce, e.timeInForce),
		Status:        o.Status,
		SubmittedAt:   o.SubmittedAt,
		Raw:           o.Raw,
		RunID:         e.run.RunID,
	}
	if rec.Quantity.IsZero() {
		rec.Quantity = req.Quantity
	}
	return rec
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package bot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"statarb/internal/broker"
	"statarb/internal/config"
	"statarb/internal/models"
	"statarb/pkg/utils"
)

// PairOutcome - исход обработки сигнала пары
type PairOutcome string

const (
	PairOutcomeExecuted        PairOutcome = "executed"
	PairOutcomeNoAction        PairOutcome = "no_action"
	PairOutcomeBlocked         PairOutcome = "blocked"
	PairOutcomeTradingDisabled PairOutcome = "trading_disabled"
	PairOutcomeFailed          PairOutcome = "failed"
)

// Метки ног
const (
	LegA        = "A"
	LegB        = "B"
	LegAFlatten = "A_flatten"
)

// EventPublisher - получатель событий исполнения (websocket.Hub)
type EventPublisher interface {
	BroadcastLegEvent(ev *models.LegEvent)
	BroadcastPairEvent(ev *models.PairEvent)
	BroadcastRunSummary(summary *models.RunSummary)
}

type nopPublisher struct{}

func (nopPublisher) BroadcastLegEvent(*models.LegEvent)     {}
func (nopPublisher) BroadcastPairEvent(*models.PairEvent)   {}
func (nopPublisher) BroadcastRunSummary(*models.RunSummary) {}

// PairSignalRequest - сигнал пары на исполнение
type PairSignalRequest struct {
	PairID               int
	DecisionTS           time.Time
	Action               string
	SymbolA              string
	SymbolB              string
	HedgeRatio           float64
	OrdersSubmittedSoFar int
	// SymbolsWithOpenOrders - снимок открытых ордеров, один на прогон
	SymbolsWithOpenOrders map[string]struct{}
}

// PairResult - итог пары
type PairResult struct {
	PairID  int
	Action  string
	Outcome PairOutcome
	Reasons []string

	QtyA decimal.Decimal
	QtyB decimal.Decimal
	LegA *LegResult
	LegB *LegResult

	// OrdersSubmitted - счетчик новых ордеров прогона с учетом этой пары
	OrdersSubmitted int
	// PartialLegs - ноги в статусе partially_filled
	PartialLegs []string

	Compensation *CompensationResult
}

// PairOrchestratorConfig - параметры оркестратора на один прогон
type PairOrchestratorConfig struct {
	Run                   models.RunInfo
	Risk                  config.RiskConfig
	PerPairNotional       float64
	TradingEnabled        bool
	CompensationPolls     int
	CompensationPollDelay time.Duration
}

// PairOrchestrator исполняет сигнал пары двумя ногами.
//
// Гейты проверяются по порядку, первый отказ прекращает обработку:
// действие → открытые ордера → бюджет → риск → kill switch.
// Если нога B упала после новой ноги A, A отменяется и при необходимости
// закрывается встречным ордером (см. compensate).
type PairOrchestrator struct {
	legs   *LegExecutor
	broker broker.Broker
	risk   *RiskGate
	prices PriceSource
	events EventPublisher
	cfg    PairOrchestratorConfig
	logger *utils.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPairOrchestrator создает оркестратор
func NewPairOrchestrator(
	legs *LegExecutor,
	b broker.Broker,
	risk *RiskGate,
	prices PriceSource,
	events EventPublisher,
	cfg PairOrchestratorConfig,
	logger *utils.Logger,
) *PairOrchestrator {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = utils.L()
	}
	if cfg.CompensationPolls <= 0 {
		cfg.CompensationPolls = 1
	}

	return &PairOrchestrator{
		legs:   legs,
		broker: b,
		risk:   risk,
		prices: prices,
		events: events,
		cfg:    cfg,
		logger: logger.WithComponent("pair_orchestrator").WithRun(cfg.Run.RunID, cfg.Run.Mode),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// SidesFor возвращает стороны ног A и B для действия сигнала
func SidesFor(action string) (sideA, sideB string, ok bool) {
	switch action {
	case models.ActionEnterLong:
		return models.SideBuy, models.SideSell, true
	case models.ActionEnterShort:
		return models.SideSell, models.SideBuy, true
	}
	return "", "", false
}

// ExecutePairSignal обрабатывает сигнал пары.
//
// Ошибка возвращается только при неустранимом отказе ноги (после попытки
// компенсации) или при отказе чтения данных риска; блокировки, отсутствие
// действия и выключенная торговля - это PairResult.
func (o *PairOrchestrator) ExecutePairSignal(ctx context.Context, req PairSignalRequest) (*PairResult, error) {
	log := o.logger.With(utils.PairID(req.PairID), utils.Action(req.Action))
	res := &PairResult{PairID: req.PairID, Action: req.Action, OrdersSubmitted: req.OrdersSubmittedSoFar}

	sideA, sideB, ok := SidesFor(req.Action)
	if !ok {
		res.Outcome = PairOutcomeNoAction
		log.Debug("no action for signal", utils.Event("pair_no_action"))
		o.finish(res, nil)
		return res, nil
	}

	// открытые ордера по снимку прогона
	var openReasons []string
	for _, sym := range []string{req.SymbolA, req.SymbolB} {
		if _, open := req.SymbolsWithOpenOrders[sym]; open {
			openReasons = append(openReasons, fmt.Sprintf("existing_open_order symbol=%s", sym))
		}
	}
	if len(openReasons) > 0 {
		return o.block(res, log, "open_orders", openReasons), nil
	}

	// обе ноги должны уложиться в бюджет
	if remaining := o.cfg.Risk.MaxOrdersPerRun - req.OrdersSubmittedSoFar; remaining < 2 {
		return o.block(res, log, "order_budget", []string{
			fmt.Sprintf("order_budget_exhausted remaining=%d needed=2", remaining),
		}), nil
	}

	allowed, reasons, err := o.risk.Check(ctx, RiskCheckParams{
		Symbols:                   []string{req.SymbolA, req.SymbolB},
		MaxGrossExposure:          o.cfg.Risk.MaxGrossExposure,
		MaxPositionValuePerSymbol: o.cfg.Risk.MaxPositionValuePerSymbol,
		MaxOrdersPerRun:           o.cfg.Risk.MaxOrdersPerRun,
		StaleSeconds:              o.cfg.Risk.DataStaleSeconds,
		OrdersSubmittedInRun:      req.OrdersSubmittedSoFar,
	})
	if err != nil {
		res.Outcome = PairOutcomeFailed
		log.Error("risk check failed", utils.Event("pair_risk_error"), utils.Err(err))
		o.finish(res, err)
		return res, fmt.Errorf("pair %d risk check: %w", req.PairID, err)
	}
	if !allowed {
		return o.block(res, log, "risk", reasons), nil
	}

	if !o.cfg.TradingEnabled {
		res.Outcome = PairOutcomeTradingDisabled
		log.Info("trading disabled, pair skipped", utils.Event("pair_kill_switch_block"))
		o.finish(res, nil)
		return res, nil
	}

	qtyA, qtyB, err := o.size(ctx, req)
	if err != nil {
		return o.block(res, log, "sizing", []string{err.Error()}), nil
	}
	res.QtyA, res.QtyB = qtyA, qtyB

	reqA := LegRequest{
		PairID:               req.PairID,
		DecisionTS:           req.DecisionTS,
		Action:               req.Action,
		LegLabel:             LegA,
		Symbol:               req.SymbolA,
		Quantity:             qtyA,
		Side:                 sideA,
		OrdersSubmittedSoFar: res.OrdersSubmitted,
	}
	legA, err := o.legs.ExecuteLeg(ctx, reqA)
	if err != nil {
		res.Outcome = PairOutcomeFailed
		log.Error("leg A failed", utils.Event("pair_leg_failed"), utils.Leg(LegA), utils.Err(err))
		o.finish(res, err)
		return res, fmt.Errorf("pair %d leg A: %w", req.PairID, err)
	}
	res.LegA = &legA
	o.countLeg(res, legA)
	o.publishLeg(req.PairID, reqA, legA)

	// без ноги A нога B дала бы голую экспозицию
	if legA.Mode == LegModeBlockedExistingOpenOrder || legA.Mode == LegModeTradingDisabled {
		return o.block(res, log, "leg_a", []string{fmt.Sprintf("leg_a_not_placed mode=%s", legA.Mode)}), nil
	}
	if legA.Mode == LegModeFetchExisting {
		reasons, err := o.existingLegAReasons(ctx, reqA, legA)
		if err != nil {
			res.Outcome = PairOutcomeFailed
			log.Error("leg A state check failed", utils.Event("pair_leg_failed"), utils.Leg(LegA), utils.Err(err))
			o.finish(res, err)
			return res, fmt.Errorf("pair %d leg A: %w", req.PairID, err)
		}
		if len(reasons) > 0 {
			return o.block(res, log, "leg_a", reasons), nil
		}
	}
	o.flagPartial(res, log, LegA, legA)

	reqB := LegRequest{
		PairID:               req.PairID,
		DecisionTS:           req.DecisionTS,
		Action:               req.Action,
		LegLabel:             LegB,
		Symbol:               req.SymbolB,
		Quantity:             qtyB,
		Side:                 sideB,
		OrdersSubmittedSoFar: res.OrdersSubmitted,
	}
	legB, err := o.legs.ExecuteLeg(ctx, reqB)
	if err != nil {
		res.Outcome = PairOutcomeFailed
		log.Error("leg B failed", utils.Event("pair_leg_failed"), utils.Leg(LegB), utils.Err(err))

		if legA.Mode == LegModeSubmittedNew && legA.BrokerOrderID != "" {
			res.Compensation = o.compensate(ctx, reqA, legA, log)
			if res.Compensation.Flatten != nil {
				o.countLeg(res, *res.Compensation.Flatten)
			}
			o.finish(res, err)
			return res, &CompensationError{PairID: req.PairID, Result: res.Compensation, Err: err}
		}

		o.finish(res, err)
		return res, fmt.Errorf("pair %d leg B: %w", req.PairID, err)
	}
	res.LegB = &legB
	o.countLeg(res, legB)
	o.publishLeg(req.PairID, reqB, legB)
	o.flagPartial(res, log, LegB, legB)

	res.Outcome = PairOutcomeExecuted
	log.Info("pair executed",
		utils.Event("pair_executed"),
		utils.String("leg_a_mode", string(legA.Mode)),
		utils.String("leg_b_mode", string(legB.Mode)),
		utils.Quantity(qtyA.String()),
		utils.String("qty_b", qtyB.String()),
		utils.Int("orders_submitted", res.OrdersSubmitted),
	)
	o.finish(res, nil)
	return res, nil
}

// size считает объемы ног от номинала пары по последним ценам
func (o *PairOrchestrator) size(ctx context.Context, req PairSignalRequest) (decimal.Decimal, decimal.Decimal, error) {
	symbols := []string{req.SymbolA, req.SymbolB}
	sort.Strings(symbols)

	prices, err := o.prices.LatestPrices(ctx, symbols)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sizing_failed error=%v", err)
	}

	pa, ok := prices[req.SymbolA]
	if !ok || pa.Close <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s symbol=%s", RuleMissingPrice, req.SymbolA)
	}
	pb, ok := prices[req.SymbolB]
	if !ok || pb.Close <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s symbol=%s", RuleMissingPrice, req.SymbolB)
	}

	notional := decimal.NewFromFloat(o.cfg.PerPairNotional)
	hedge := decimal.NewFromFloat(req.HedgeRatio).Abs()

	return legQty(notional, pa.Close), legQty(hedge.Mul(notional), pb.Close), nil
}

// legQty = max(1, floor(notional / price))
func legQty(notional decimal.Decimal, price float64) decimal.Decimal {
	qty := notional.Div(decimal.NewFromFloat(price)).Floor()
	if qty.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return qty
}

// existingLegAReasons проверяет ногу A прошлого прогона.
// Отмененная, отклоненная или не поданная нога A, как и уже закрытая
// компенсацией, не прикрывает ногу B.
func (o *PairOrchestrator) existingLegAReasons(ctx context.Context, reqA LegRequest, legA LegResult) ([]string, error) {
	switch LifecycleState(legA.Status) {
	case models.OrderStatusExistingOpenOrder, models.OrderStatusBlocked, models.OrderStatusCanceled,
		models.OrderStatusRejected, models.OrderStatusExpired:
		return []string{fmt.Sprintf("leg_a_not_live status=%s", legA.Status)}, nil
	}

	flatten := reqA
	flatten.LegLabel = LegAFlatten
	flattened, err := o.legs.Recorded(ctx, flatten)
	if err != nil {
		return nil, err
	}
	if flattened {
		return []string{"leg_a_flattened"}, nil
	}
	return nil, nil
}

// flagPartial отмечает частично исполненную ногу для разбора оператором
func (o *PairOrchestrator) flagPartial(res *PairResult, log *utils.Logger, label string, leg LegResult) {
	if !NeedsAttention(leg.Status) {
		return
	}
	res.PartialLegs = append(res.PartialLegs, label)
	log.Warn("leg partially filled",
		utils.Event("pair_partial_fill"),
		utils.Leg(label),
		utils.OrderID(leg.BrokerOrderID),
		utils.Quantity(leg.FilledQty.String()),
	)
}

func (o *PairOrchestrator) block(res *PairResult, log *utils.Logger, gate string, reasons []string) *PairResult {
	res.Outcome = PairOutcomeBlocked
	res.Reasons = reasons
	log.Info("pair blocked",
		utils.Event("pair_blocked"),
		utils.String("gate", gate),
		utils.Reasons(reasons),
	)
	o.finish(res, nil)
	return res
}

func (o *PairOrchestrator) countLeg(res *PairResult, leg LegResult) {
	if leg.Mode == LegModeSubmittedNew {
		res.OrdersSubmitted++
	}
}

func (o *PairOrchestrator) publishLeg(pairID int, req LegRequest, leg LegResult) {
	o.events.BroadcastLegEvent(&models.LegEvent{
		RunID:         o.cfg.Run.RunID,
		Mode:          o.cfg.Run.Mode,
		PairID:        pairID,
		Leg:           req.LegLabel,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Quantity.String(),
		ClientOrderID: leg.ClientOrderID,
		BrokerOrderID: leg.BrokerOrderID,
		Outcome:       string(leg.Mode),
		Status:        leg.Status,
		FilledQty:     leg.FilledQty.String(),
		Timestamp:     o.now().UTC(),
	})
}

func (o *PairOrchestrator) finish(res *PairResult, err error) {
	PairOutcomes.WithLabelValues(o.cfg.Run.Mode, string(res.Outcome)).Inc()

	ev := &models.PairEvent{
		RunID:           o.cfg.Run.RunID,
		Mode:            o.cfg.Run.Mode,
		PairID:          res.PairID,
		Action:          res.Action,
		Outcome:         string(res.Outcome),
		Reasons:         res.Reasons,
		OrdersSubmitted: res.OrdersSubmitted,
		PartialLegs:     res.PartialLegs,
		Compensated:     res.Compensation != nil,
		Timestamp:       o.now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	o.events.BroadcastPairEvent(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"statarb/internal/broker"
	"statarb/internal/config"
	"statarb/internal/models"
	"statarb/pkg/utils"
)

// ErrRunInProgress - предыдущий прогон в этом процессе еще идет
var ErrRunInProgress = errors.New("execution run already in progress")

// PairSource - реестр пар (repository.PairRepository)
type PairSource interface {
	GetEnabled(ctx context.Context, limit int) ([]*models.Pair, error)
}

// SignalSource - последние сигналы (repository.SignalRepository)
type SignalSource interface {
	LatestForPairs(ctx context.Context, pairIDs []int) (map[int]*models.Signal, error)
}

// RunnerDeps - зависимости прогона
type RunnerDeps struct {
	// Broker возвращает брокера, помечающего логи и dead letter прогоном
	Broker    func(run models.RunInfo) broker.Broker
	Ledger    OrderLedger
	Pairs     PairSource
	Signals   SignalSource
	Prices    PriceSource
	Positions PositionSource
	Events    EventPublisher
}

// Runner - один прогон исполнения: снимок открытых ордеров, последний
// сигнал по каждой включенной паре, пары строго по очереди с общим бюджетом.
//
// Kill switch хранится здесь и снимается в начале каждого прогона;
// изменение во время прогона действует со следующего.
type Runner struct {
	deps   RunnerDeps
	risk   config.RiskConfig
	exec   config.ExecutionConfig
	logger *utils.Logger

	tradingEnabled atomic.Bool
	running        atomic.Bool

	now func() time.Time
}

// NewRunner создает раннер
func NewRunner(deps RunnerDeps, risk config.RiskConfig, exec config.ExecutionConfig, logger *utils.Logger) *Runner {
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if logger == nil {
		logger = utils.L()
	}

	r := &Runner{
		deps:   deps,
		risk:   risk,
		exec:   exec,
		logger: logger.WithComponent("runner"),
		now:    time.Now,
	}
	r.SetTradingEnabled(exec.TradingEnabled)
	return r
}

// NewRunContext возвращает идентификатор прогона: RUN_ID из конфигурации или новый uuid
func NewRunContext(exec config.ExecutionConfig) models.RunInfo {
	id := exec.RunID
	if id == "" {
		id = uuid.NewString()
	}
	return models.RunInfo{RunID: id, Mode: exec.Mode}
}

// SetTradingEnabled переключает kill switch
func (r *Runner) SetTradingEnabled(enabled bool) {
	r.tradingEnabled.Store(enabled)
	TradingEnabled.Set(boolGauge(enabled))
}

// TradingEnabled - текущее состояние kill switch
func (r *Runner) TradingEnabled() bool {
	return r.tradingEnabled.Load()
}

// Start запускает прогоны сразу и далее каждые interval до отмены ctx
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.exec.Interval
	}
	r.logger.Info("runner started", utils.Event("runner_start"), utils.Dur("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("execution run failed", utils.Event("exec_run_failed"), utils.Err(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped", utils.Event("runner_stop"))
			return
		case <-ticker.C:
		}
	}
}

// RunOnce выполняет один прогон.
// Ошибка возвращается, если прогон не смог начаться (снимок ордеров, пары,
// сигналы). Ошибки отдельных пар логируются, следующие пары выполняются.
func (r *Runner) RunOnce(ctx context.Context) (*models.RunSummary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	run := NewRunContext(r.exec)
	enabled := r.TradingEnabled()
	log := r.logger.WithRun(run.RunID, run.Mode)

	summary := &models.RunSummary{
		RunID:          run.RunID,
		Mode:           run.Mode,
		TradingEnabled: enabled,
		StartedAt:      r.now().UTC(),
	}
	log.Info("execution run started", utils.Event("exec_run_start"), utils.Bool("trading_enabled", enabled))

	b := r.deps.Broker(run)

	openSymbols, pairs, signals, err := r.load(ctx, b)
	if err != nil {
		RunsTotal.WithLabelValues(run.Mode, "failed").Inc()
		log.Error("execution run aborted", utils.Event("exec_run_failed"), utils.Err(err))
		return nil, err
	}

	legs := NewLegExecutor(b, r.deps.Ledger, LegExecutorConfig{
		Run:            run,
		TradingEnabled: enabled,
		OrderType:      r.exec.OrderType,
		TimeInForce:    r.exec.TimeInForce,
	}, r.logger)
	gate := NewRiskGate(r.deps.Prices, r.deps.Positions)
	orch := NewPairOrchestrator(legs, b, gate, r.deps.Prices, r.deps.Events, PairOrchestratorConfig{
		Run:                   run,
		Risk:                  r.risk,
		PerPairNotional:       r.exec.PerPairNotional,
		TradingEnabled:        enabled,
		CompensationPolls:     r.exec.CompensationPolls,
		CompensationPollDelay: r.exec.CompensationPollDelay,
	}, r.logger)

	submitted := 0
	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}

		sig, ok := signals[p.ID]
		if !ok {
			log.Debug("no signal for pair", utils.Event("pair_no_signal"), utils.PairID(p.ID))
			continue
		}
		summary.Pairs++

		res, err := orch.ExecutePairSignal(ctx, PairSignalRequest{
			PairID:                p.ID,
			DecisionTS:            sig.TS,
			Action:                sig.Action,
			SymbolA:               p.SymbolA,
			SymbolB:               p.SymbolB,
			HedgeRatio:            p.HedgeRatio,
			OrdersSubmittedSoFar:  submitted,
			SymbolsWithOpenOrders: openSymbols,
		})
		if res != nil {
			submitted = res.OrdersSubmitted
		}
		if err != nil {
			summary.Failed++
			log.Error("pair execution failed",
				utils.Event("exec_pair_failed"),
				utils.PairID(p.ID),
				utils.Action(sig.Action),
				utils.Err(err),
			)
			continue
		}

		switch res.Outcome {
		case PairOutcomeExecuted:
			summary.Executed++
		case PairOutcomeBlocked, PairOutcomeTradingDisabled:
			summary.Blocked++
		default:
			summary.NoAction++
		}
	}

	summary.OrdersSubmitted = submitted
	summary.Duration = r.now().Sub(summary.StartedAt)

	RunsTotal.WithLabelValues(run.Mode, "ok").Inc()
	OrdersPerRun.Observe(float64(submitted))
	log.Info("execution run done",
		utils.Event("exec_run_done"),
		utils.Int("pairs", summary.Pairs),
		utils.Int("executed", summary.Executed),
		utils.Int("blocked", summary.Blocked),
		utils.Int("no_action", summary.NoAction),
		utils.Int("failed", summary.Failed),
		utils.Int("orders_submitted", submitted),
		utils.Dur("duration", summary.Duration),
	)
	r.deps.Events.BroadcastRunSummary(summary)

	return summary, ctx.Err()
}

// load читает все входы прогона: снимок открытых ордеров, пары и сигналы
func (r *Runner) load(ctx context.Context, b broker.Broker) (map[string]struct{}, []*models.Pair, map[int]*models.Signal, error) {
	open, err := b.ListOpenOrders(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list open orders: %w", err)
	}
	openSymbols := make(map[string]struct{}, len(open))
	for _, o := range open {
		// брокер может отдать уже закрытый ордер из кэша между статусами
		if !o.IsOpen() {
			continue
		}
		openSymbols[o.Symbol] = struct{}{}
	}

	pairs, err := r.deps.Pairs.GetEnabled(ctx, r.exec.MaxPairs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load pairs: %w", err)
	}

	ids := make([]int, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.ID)
	}
	signals, err := r.deps.Signals.LatestForPairs(ctx, ids)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load signals: %w", err)
	}

	return openSymbols, pairs, signals, nil
}

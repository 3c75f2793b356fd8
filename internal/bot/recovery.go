package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"statarb/internal/models"
	"statarb/pkg/utils"
)

// compensationTimeout - общий предел на отмену, опрос и закрытие ноги A
const compensationTimeout = 2 * time.Minute

// CompensationResult - что удалось сделать с ногой A после отказа ноги B
type CompensationResult struct {
	BrokerOrderID string
	CancelErr     error // отказ отмены (например, уже исполнен)
	Polls         int
	FinalStatus   string
	FilledQty     decimal.Decimal
	// Unverified - ни один опрос не ответил, исполнение ноги A неизвестно
	Unverified bool
	Flatten    *LegResult // nil, если закрывать было нечего
	FlattenErr error
}

// Flat - остаточная экспозиция пары закрыта (или ее не было)
func (c *CompensationResult) Flat() bool {
	if c.Unverified {
		return false
	}
	if c.FilledQty.IsZero() {
		return true
	}
	return c.Flatten != nil && c.FlattenErr == nil
}

// CompensationError - исходная ошибка ноги B после попытки компенсации.
// errors.Is/As видят исходную ошибку через Unwrap.
type CompensationError struct {
	PairID int
	Result *CompensationResult
	Err    error
}

func (e *CompensationError) Error() string {
	state := "flat"
	switch {
	case e.Result.Unverified:
		state = "unverified"
	case !e.Result.Flat():
		state = "residual exposure"
	}
	return fmt.Sprintf("pair %d leg B: %v (compensated: %s)", e.PairID, e.Err, state)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// compensate отменяет ногу A и закрывает исполненную часть встречным ордером.
//
// Отмена может разминуться с исполнением у брокера, поэтому объем для
// закрытия берется из опроса после отмены, а не из ответа на подачу.
// Опрос идет через ExecuteLeg той же ноги: журнал найдет ключ и только
// освежит состояние. Закрытие идет с ключом A_flatten, так что повторный
// прогон его не удвоит. Отказы логируются и не повторяются. Если ни один
// опрос не ответил, закрытие не подается и результат помечается Unverified.
func (o *PairOrchestrator) compensate(ctx context.Context, reqA LegRequest, legA LegResult, log *utils.Logger) *CompensationResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	comp := &CompensationResult{
		BrokerOrderID: legA.BrokerOrderID,
		FinalStatus:   legA.Status,
		FilledQty:     legA.FilledQty,
	}
	log = log.With(utils.OrderID(legA.BrokerOrderID), utils.Leg(LegA))
	log.Warn("compensating leg A", utils.Event("compensation_start"))

	if err := o.broker.CancelOrder(ctx, legA.BrokerOrderID); err != nil {
		comp.CancelErr = err
		log.Warn("cancel of leg A failed", utils.Event("compensation_cancel_failed"), utils.Err(err))
	}

	verified := false
	for i := 0; i < o.cfg.CompensationPolls; i++ {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.CompensationPollDelay); err != nil {
				break
			}
		}
		comp.Polls++

		fresh, err := o.legs.ExecuteLeg(ctx, reqA)
		if err != nil {
			log.Warn("poll of leg A failed", utils.Event("compensation_poll_failed"), utils.Attempt(i), utils.Err(err))
			continue
		}
		verified = true
		comp.FinalStatus = fresh.Status
		comp.FilledQty = fresh.FilledQty
		if IsTerminal(fresh.Status) {
			break
		}
	}

	// объем из ответа на подачу устарел; закрывать наугад нельзя
	if !verified {
		comp.Unverified = true
		Compensations.WithLabelValues("unverified").Inc()
		log.Error("leg A state unknown after cancel, exposure unverified",
			utils.Event("compensation_unverified"),
			utils.Int("polls", comp.Polls),
			utils.Bool("cancel_failed", comp.CancelErr != nil),
		)
		return comp
	}

	if !comp.FilledQty.IsPositive() {
		Compensations.WithLabelValues("canceled").Inc()
		log.Info("leg A canceled before any fill",
			utils.Event("compensation_done"),
			utils.Status(comp.FinalStatus),
		)
		return comp
	}

	flatten, err := o.legs.ExecuteLeg(ctx, LegRequest{
		PairID:     reqA.PairID,
		DecisionTS: reqA.DecisionTS,
		Action:     reqA.Action,
		LegLabel:   LegAFlatten,
		Symbol:     reqA.Symbol,
		Quantity:   comp.FilledQty,
		Side:       models.Opposite(reqA.Side),
	})
	if err != nil {
		comp.FlattenErr = err
		Compensations.WithLabelValues("failed").Inc()
		log.Error("flatten of leg A failed, residual exposure remains",
			utils.Event("compensation_failed"),
			utils.Quantity(comp.FilledQty.String()),
			utils.Err(err),
		)
		return comp
	}

	comp.Flatten = &flatten
	o.publishLeg(reqA.PairID, LegRequest{
		LegLabel: LegAFlatten,
		Symbol:   reqA.Symbol,
		Side:     models.Opposite(reqA.Side),
		Quantity: comp.FilledQty,
	}, flatten)

	Compensations.WithLabelValues("flattened").Inc()
	log.Warn("leg A flattened",
		utils.Event("compensation_flattened"),
		utils.Quantity(comp.FilledQty.String()),
		utils.Side(models.Opposite(reqA.Side)),
		utils.ClientOrderID(flatten.ClientOrderID),
		utils.String("flatten_mode", string(flatten.Mode)),
	)
	return comp
}

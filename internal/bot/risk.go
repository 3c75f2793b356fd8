package bot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"statarb/internal/models"
)

// PriceSource - последние цены по символам (repository.PriceRepository)
type PriceSource interface {
	// LatestPrices возвращает последний бар по каждому символу; символов без цены в ответе нет
	LatestPrices(ctx context.Context, symbols []string) (map[string]*models.PricePoint, error)
}

// PositionSource - текущие позиции (repository.PositionRepository)
type PositionSource interface {
	GetAll(ctx context.Context) ([]*models.Position, error)
}

// RiskCheckParams - параметры проверки
type RiskCheckParams struct {
	Symbols                   []string // символы предлагаемых ордеров
	MaxGrossExposure          float64
	MaxPositionValuePerSymbol float64
	MaxOrdersPerRun           int
	StaleSeconds              int
	OrdersSubmittedInRun      int
}

// Правила риск-гейта (первое слово причины)
const (
	RuleDataStale         = "data_stale"
	RuleMaxGrossExposure  = "max_gross_exposure"
	RuleMissingPrice      = "missing_price"
	RuleMaxSymbolPosition = "max_symbol_position"
	RuleMaxOrdersPerRun   = "max_orders_per_run"
)

// RiskGate - проверка перед каждой подачей ордеров.
//
// Только читает позиции и цены; проверяются все правила сразу, в ответ
// попадает по причине на каждое нарушение.
type RiskGate struct {
	prices    PriceSource
	positions PositionSource
	now       func() time.Time
}

// NewRiskGate создает риск-гейт
func NewRiskGate(prices PriceSource, positions PositionSource) *RiskGate {
	return &RiskGate{prices: prices, positions: positions, now: time.Now}
}

// Check проверяет предлагаемые ордера.
// err - только ошибки чтения позиций или цен.
func (g *RiskGate) Check(ctx context.Context, p RiskCheckParams) (bool, []string, error) {
	positions, err := g.positions.GetAll(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("load positions: %w", err)
	}

	held := make(map[string]float64, len(positions))
	lookup := make([]string, 0, len(positions)+len(p.Symbols))
	seen := make(map[string]bool, cap(lookup))
	for _, pos := range positions {
		held[pos.Symbol] += pos.Qty
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			lookup = append(lookup, pos.Symbol)
		}
	}
	for _, s := range p.Symbols {
		if !seen[s] {
			seen[s] = true
			lookup = append(lookup, s)
		}
	}
	sort.Strings(lookup)

	prices, err := g.prices.LatestPrices(ctx, lookup)
	if err != nil {
		return false, nil, fmt.Errorf("load prices: %w", err)
	}

	var reasons []string

	// 1. свежесть данных по символам ордера
	if reason, ok := g.checkStaleness(p, prices); !ok {
		reasons = append(reasons, reason)
	}

	// 2. валовая экспозиция по всем позициям
	gross := 0.0
	for _, sym := range lookup {
		qty, ok := held[sym]
		if !ok {
			continue
		}
		if price, ok := prices[sym]; ok {
			gross += math.Abs(qty) * price.Close
		}
	}
	if gross > p.MaxGrossExposure {
		reasons = append(reasons, fmt.Sprintf("%s gross=%.2f limit=%.2f", RuleMaxGrossExposure, gross, p.MaxGrossExposure))
	}

	// 3. экспозиция по каждому символу ордера
	for _, sym := range p.Symbols {
		price, ok := prices[sym]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("%s symbol=%s", RuleMissingPrice, sym))
			continue
		}
		value := math.Abs(held[sym]) * price.Close
		if value > p.MaxPositionValuePerSymbol {
			reasons = append(reasons, fmt.Sprintf("%s symbol=%s value=%.2f limit=%.2f",
				RuleMaxSymbolPosition, sym, value, p.MaxPositionValuePerSymbol))
		}
	}

	// 4. бюджет ордеров прогона
	if p.OrdersSubmittedInRun >= p.MaxOrdersPerRun {
		reasons = append(reasons, fmt.Sprintf("%s submitted=%d limit=%d",
			RuleMaxOrdersPerRun, p.OrdersSubmittedInRun, p.MaxOrdersPerRun))
	}

	for _, r := range reasons {
		RiskBlocks.WithLabelValues(ruleOf(r)).Inc()
	}

	return len(reasons) == 0, reasons, nil
}

// checkStaleness - самая старая цена среди символов ордера не старше StaleSeconds
func (g *RiskGate) checkStaleness(p RiskCheckParams, prices map[string]*models.PricePoint) (string, bool) {
	now := g.now()
	worst := -1.0
	for _, sym := range p.Symbols {
		price, ok := prices[sym]
		if !ok {
			return RuleDataStale + " age_seconds=none", false
		}
		if age := now.Sub(price.TS).Seconds(); age > worst {
			worst = age
		}
	}
	if worst > float64(p.StaleSeconds) {
		return fmt.Sprintf("%s age_seconds=%d", RuleDataStale, int(worst)), false
	}
	return "", true
}

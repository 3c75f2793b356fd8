package bot

import (
	"strings"

	"statarb/internal/models"
)

// stateNone - ордера еще нет в журнале
const stateNone = ""

// ValidTransitions определяет допустимые переходы жизненного цикла ордера.
// Брокер может сразу вернуть конечный статус, поэтому из none и submitted
// достижимы все конечные состояния.
var ValidTransitions = map[string][]string{
	stateNone: {
		models.OrderStatusSubmitted, models.OrderStatusPartiallyFilled, models.OrderStatusFilled,
		models.OrderStatusCanceled, models.OrderStatusRejected, models.OrderStatusExpired,
		models.OrderStatusDoneForDay, models.OrderStatusBlocked, models.OrderStatusExistingOpenOrder,
	},
	models.OrderStatusSubmitted: {
		models.OrderStatusPartiallyFilled, models.OrderStatusFilled, models.OrderStatusCanceled,
		models.OrderStatusRejected, models.OrderStatusExpired, models.OrderStatusDoneForDay,
	},
	models.OrderStatusPartiallyFilled: {
		models.OrderStatusFilled, models.OrderStatusCanceled, models.OrderStatusExpired,
		models.OrderStatusDoneForDay,
	},
	// ключ занят чужим ордером; повторный прогон может узнать о нем больше
	models.OrderStatusExistingOpenOrder: {
		models.OrderStatusSubmitted, models.OrderStatusPartiallyFilled, models.OrderStatusFilled,
		models.OrderStatusCanceled, models.OrderStatusRejected, models.OrderStatusExpired,
		models.OrderStatusDoneForDay,
	},
}

// LifecycleState переводит статус брокера в состояние жизненного цикла.
// Все промежуточные статусы брокера (new, accepted, pending_*...) - это submitted.
func LifecycleState(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case stateNone:
		return stateNone
	case models.OrderStatusPartiallyFilled, models.OrderStatusFilled, models.OrderStatusCanceled,
		models.OrderStatusRejected, models.OrderStatusExpired, models.OrderStatusDoneForDay,
		models.OrderStatusBlocked, models.OrderStatusExistingOpenOrder:
		return s
	default:
		return models.OrderStatusSubmitted
	}
}

// CanTransition проверяет допустимость перехода между статусами.
// Повтор того же состояния допустим (сверка без изменений).
func CanTransition(from, to string) bool {
	from, to = LifecycleState(from), LifecycleState(to)
	if from == to {
		return true
	}
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal - ордер больше не изменится
func IsTerminal(status string) bool {
	switch LifecycleState(status) {
	case models.OrderStatusFilled, models.OrderStatusCanceled, models.OrderStatusRejected,
		models.OrderStatusExpired, models.OrderStatusDoneForDay:
		return true
	}
	return false
}

// NeedsAttention - частичное исполнение требует разбора в потоке пары
func NeedsAttention(status string) bool {
	return LifecycleState(status) == models.OrderStatusPartiallyFilled
}

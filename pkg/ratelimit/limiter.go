package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - ограничитель минимального интервала между запросами к API брокера
//
// Каждый вызов Wait резервирует следующий слот не раньше чем через
// minInterval после предыдущего. Слот резервируется под мьютексом, а сон
// происходит вне его, поэтому параллельные вызывающие выстраиваются в
// очередь и не проскакивают одновременно.
//
// Состояние принадлежит экземпляру: все, кто ходит к одному брокеру,
// должны делить один *RateLimiter.
//
// Использование:
//
//	limiter := NewRateLimiter(250 * time.Millisecond)
//	if err := limiter.Wait(ctx); err != nil { ... }
type RateLimiter struct {
	minInterval time.Duration
	next        time.Time // самый ранний момент для следующего запроса
	mu          sync.Mutex

	now func() time.Time
}

// NewRateLimiter создаёт ограничитель. minInterval <= 0 отключает ожидание.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval < 0 {
		minInterval = 0
	}
	return &RateLimiter{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Reserve занимает слот и возвращает, сколько нужно подождать до него
func (rl *RateLimiter) Reserve() *Reservation {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	slot := now
	if rl.next.After(now) {
		slot = rl.next
	}
	rl.next = slot.Add(rl.minInterval)

	return &Reservation{delay: slot.Sub(now)}
}

// Wait блокируется до своего слота или до отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := rl.Reserve().Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MinInterval возвращает настроенный интервал между запросами
func (rl *RateLimiter) MinInterval() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.minInterval
}

// Reservation - зарезервированный слот
type Reservation struct {
	delay time.Duration
}

// Delay возвращает время ожидания до слота
func (r *Reservation) Delay() time.Duration {
	if r.delay < 0 {
		return 0
	}
	return r.delay
}

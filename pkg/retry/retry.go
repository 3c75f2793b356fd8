package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация для retry логики
//
// Задержка перед повтором после неудачной попытки attempt (с нуля):
//
//	delay = min(MaxDelay, BaseDelay * 2^attempt + U(0, MaxJitter))
//
// Если ошибка несет подсказку сервера (RetryAfterHint), ждем ровно
// столько, сколько сказал сервер, без jitter и без потолка.
//
// Без подсказки задержки не убывают от попытки к попытке.
type Config struct {
	// MaxRetries - количество повторов ПОСЛЕ первой попытки.
	// Всего попыток = MaxRetries + 1. Отрицательное значение = 0.
	MaxRetries int

	// BaseDelay - база экспоненты. По умолчанию 500ms
	BaseDelay time.Duration

	// MaxDelay - потолок вычисленной задержки. По умолчанию 30s
	MaxDelay time.Duration

	// MaxJitter - верхняя граница равномерного jitter. По умолчанию 250ms
	MaxJitter time.Duration

	// RetryIf - нужно ли повторять ошибку. По умолчанию IsRetryable
	RetryIf func(error) bool

	// OnRetry вызывается перед каждым сном; attempt - номер следующей попытки (с 1)
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep подменяется в тестах
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand возвращает число из [0, 1); подменяется в тестах
	Rand func() float64
}

// DefaultConfig - 6 повторов (7 попыток), база 500ms, потолок 30s, jitter до 250ms
func DefaultConfig() Config {
	return Config{
		MaxRetries: 6,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		MaxJitter:  250 * time.Millisecond,
	}
}

func (c *Config) validate() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
}

// Backoff вычисляет задержку после неудачной попытки attempt (с нуля)
func (c Config) Backoff(attempt int) time.Duration {
	c.validate()

	delay := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
	delay += c.Rand() * float64(c.MaxJitter)

	if delay > float64(c.MaxDelay) || math.IsInf(delay, 1) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// nextDelay учитывает подсказку сервера и монотонность
func (c Config) nextDelay(err error, attempt int, prev time.Duration) time.Duration {
	if d, ok := RetryAfterOf(err); ok {
		return d
	}
	d := c.Backoff(attempt)
	if d < prev && prev <= c.MaxDelay {
		d = prev
	}
	return d
}

// Do выполняет операцию с повторными попытками
//
// Возвращает:
//   - nil: операция успешна
//   - исходную ошибку: RetryIf сказал не повторять
//   - *ExhaustedError: все попытки неудачны
//   - ошибку контекста (обернутую): контекст отменен во время ожидания
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
//
//	resp, err := retry.DoWithResult(ctx, func() (*Response, error) {
//	    return c.attempt(ctx, req)
//	}, cfg)
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var (
		zero      T
		lastErr   error
		lastDelay time.Duration
	)

	total := cfg.MaxRetries + 1
	for attempt := 0; attempt < total; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, abortError(attempt, err, lastErr)
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}

		// Последняя попытка - не ждём
		if attempt == total-1 {
			break
		}

		delay := cfg.nextDelay(err, attempt, lastDelay)
		if _, hinted := RetryAfterOf(err); !hinted {
			lastDelay = delay
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, abortError(attempt+1, err, lastErr)
		}
	}

	return zero, &ExhaustedError{Attempts: total, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func abortError(attempts int, ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("retry aborted after %d attempts (last error: %v): %w", attempts, lastErr, ctxErr)
}

// ============================================================
// Ошибки
// ============================================================

// ExhaustedError - все попытки израсходованы
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// RetryAfterHint - ошибка, для которой сервер указал паузу
type RetryAfterHint interface {
	RetryAfter() (time.Duration, bool)
}

// RetryAfterOf достает подсказку сервера из цепочки ошибок
func RetryAfterOf(err error) (time.Duration, bool) {
	var hint RetryAfterHint
	if !errors.As(err, &hint) {
		return 0, false
	}
	d, ok := hint.RetryAfter()
	if !ok {
		return 0, false
	}
	if d < 0 {
		d = 0
	}
	return d, true
}

// RetryableError интерфейс для ошибок которые можно retry'ить
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли retry'ить ошибку.
// Ошибки контекста не повторяются; ошибки без маркера - повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// RetryIfMarked повторяет только ошибки, явно помеченные как retryable
func RetryIfMarked(err error) bool {
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return false
}

// PermanentError оборачивает ошибку которую не нужно retry'ить
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError оборачивает ошибку которую нужно retry'ить
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }

// Temporary оборачивает ошибку в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type hintErr struct {
	d time.Duration
}

func (e hintErr) Error() string                     { return "throttled" }
func (e hintErr) RetryAfter() (time.Duration, bool) { return e.d, true }

// recordSleep собирает задержки вместо реального сна
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestBackoff_Formula(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rand = func() float64 { return 0 }

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rand = func() float64 { return 0.999999 }

	got := cfg.Backoff(0)
	if got < 500*time.Millisecond || got >= 750*time.Millisecond {
		t.Errorf("Backoff(0) with max jitter = %v, want [500ms, 750ms)", got)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultConfig()
	cfg.Sleep = recordSleep(&delays)

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(delays) != 2 {
		t.Errorf("sleeps = %d, want 2", len(delays))
	}
}

func TestDo_Exhausted(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.Sleep = recordSleep(&delays)

	calls := 0
	cause := errors.New("503")
	err := Do(context.Background(), func() error {
		calls++
		return cause
	}, cfg)

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Attempts != 4 || calls != 4 {
		t.Errorf("attempts = %d, calls = %d, want 4", ex.Attempts, calls)
	}
	if !errors.Is(err, cause) {
		t.Error("ExhaustedError should wrap the last error")
	}
	if len(delays) != 3 {
		t.Errorf("sleeps = %d, want 3 (no sleep after the last attempt)", len(delays))
	}
}

func TestDo_ZeroRetriesSingleAttempt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	cfg.Sleep = func(context.Context, time.Duration) error {
		t.Fatal("must not sleep")
		return nil
	}

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("x")
	}, cfg)

	var ex *ExhaustedError
	if !errors.As(err, &ex) || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	cfg := DefaultConfig()
	calls := 0
	cause := errors.New("bad request")

	err := Do(context.Background(), func() error {
		calls++
		return Permanent(cause)
	}, cfg)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("permanent error must not be reported as exhausted")
	}
}

func TestDo_RetryAfterHonouredExactly(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.Sleep = recordSleep(&delays)

	_ = Do(context.Background(), func() error {
		return hintErr{d: 45 * time.Second}
	}, cfg)

	for i, d := range delays {
		if d != 45*time.Second {
			t.Errorf("delay %d = %v, want exactly 45s", i, d)
		}
	}
}

func TestDo_DelaysNonDecreasing(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxJitter = 250 * time.Millisecond
	i := 0
	jitters := []float64{0.9, 0.0, 0.5, 0.1, 0.0, 0.2}
	cfg.Rand = func() float64 {
		j := jitters[i%len(jitters)]
		i++
		return j
	}
	cfg.Sleep = recordSleep(&delays)

	_ = Do(context.Background(), func() error { return errors.New("x") }, cfg)

	for k := 1; k < len(delays); k++ {
		if delays[k] < delays[k-1] {
			t.Errorf("delay %d (%v) < delay %d (%v)", k, delays[k], k-1, delays[k-1])
		}
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }

	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), func() error { return errors.New("x") }, cfg)

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := Do(ctx, func() error { return errors.New("x") }, cfg)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("cancellation must not be reported as exhausted")
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	got, err := DoWithResult(context.Background(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, Temporary(errors.New("blip"))
		}
		return 42, nil
	}, cfg)

	if err != nil || got != 42 {
		t.Errorf("got %d, %v", got, err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"temporary", Temporary(errors.New("x")), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryIfMarked(t *testing.T) {
	if RetryIfMarked(errors.New("x")) {
		t.Error("unmarked error should not be retried")
	}
	if !RetryIfMarked(Temporary(errors.New("x"))) {
		t.Error("temporary error should be retried")
	}
}

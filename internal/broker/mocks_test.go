package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"statarb/internal/models"
	"statarb/pkg/utils"
)

// memorySink - DeadLetterSink в памяти
type memorySink struct {
	mu      sync.Mutex
	records []*models.DeadLetter
	fail    bool
}

func (s *memorySink) Record(_ context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.records = append(s.records, dl)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// sleepRecorder подменяет сон между попытками
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestClient(baseURL string, maxRetries int, sink DeadLetterSink, rec *sleepRecorder) *Client {
	c := NewClient(ClientConfig{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		MaxRetries:     maxRetries,
		DefaultHeaders: AuthHeaders("key-id", "super-secret"),
	}, nil, nil, sink, utils.NewNopLogger())
	if rec != nil {
		c.sleep = rec.sleep
	}
	return c.WithRun(models.RunInfo{RunID: "run-test", Mode: "paper"})
}

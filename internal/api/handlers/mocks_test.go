package handlers

import (
	"context"
	"errors"
	"sync"

	"statarb/internal/models"
	"statarb/internal/repository"
)

// ErrMockDatabase - ошибка БД для тестов
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Order Reader ============

type MockOrderReader struct {
	orders    []*models.OrderRecord
	err       error
	lastLimit int
	lastRun   string
}

func (m *MockOrderReader) GetRecent(_ context.Context, limit int) ([]*models.OrderRecord, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.orders) {
		return m.orders[:limit], nil
	}
	return m.orders, nil
}

func (m *MockOrderReader) GetByClientOrderID(_ context.Context, key string) (*models.OrderRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, o := range m.orders {
		if o.ClientOrderID == key {
			return o, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *MockOrderReader) GetByRun(_ context.Context, runID string) ([]*models.OrderRecord, error) {
	m.lastRun = runID
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.OrderRecord
	for _, o := range m.orders {
		if o.RunID == runID {
			out = append(out, o)
		}
	}
	return out, nil
}

// ============ Mock Dead Letter Reader ============

type MockDeadLetterReader struct {
	items     []*models.DeadLetter
	err       error
	lastLimit int
}

func (m *MockDeadLetterReader) GetRecent(_ context.Context, limit int) ([]*models.DeadLetter, error) {
	m.lastLimit = limit
	return m.items, m.err
}

// ============ Mock Kill Switch ============

type MockKillSwitch struct {
	mu      sync.Mutex
	enabled bool
	sets    int
}

func (m *MockKillSwitch) TradingEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *MockKillSwitch) SetTradingEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	m.sets++
}

type MockNotifier struct {
	states []bool
}

func (m *MockNotifier) BroadcastKillSwitch(enabled bool) {
	m.states = append(m.states, enabled)
}

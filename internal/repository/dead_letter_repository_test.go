package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"statarb/internal/models"
)

// ============================================================
// DeadLetterRepository Tests
// ============================================================

func TestDeadLetterRepositoryRecord(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	status := 503

	tests := []struct {
		name      string
		dl        *models.DeadLetter
		mockSetup func(mock sqlmock.Sqlmock)
	}{
		{
			name: "with status and payload",
			dl: &models.DeadLetter{
				Event:    models.EventHTTPDeadLetter,
				RunID:    "run-1",
				Mode:     "paper",
				Method:   "POST",
				URL:      "http://broker/v2/orders",
				Status:   &status,
				Error:    "service unavailable",
				Attempts: 7,
				Headers:  map[string]string{"Content-Type": "application/json"},
				Body:     `{"symbol":"AAPL"}`,
				Context:  map[string]interface{}{"pair_id": 3},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO dead_letters`).
					WithArgs("http_dead_letter", "run-1", "paper", "POST", "http://broker/v2/orders", int64(503),
						"service unavailable", 7, `{"Content-Type":"application/json"}`, nil, `{"symbol":"AAPL"}`,
						`{"pair_id":3}`, now).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
		},
		{
			name: "network failure without status",
			dl: &models.DeadLetter{
				Event:    models.EventHTTPDeadLetter,
				RunID:    "run-2",
				Mode:     "live",
				Method:   "GET",
				URL:      "http://broker/v2/orders/abc",
				Error:    "connection refused",
				Attempts: 7,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO dead_letters`).
					WithArgs("http_dead_letter", "run-2", "live", "GET", "http://broker/v2/orders/abc", nil,
						"connection refused", 7, nil, nil, nil, nil, now).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewDeadLetterRepository(db)
			repo.now = func() time.Time { return now }

			if err := repo.Record(context.Background(), tt.dl); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.dl.ID == 0 {
				t.Error("ID should be set")
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestDeadLetterRepositoryGetRecent(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cols := []string{"id", "event", "run_id", "mode", "method", "url", "status", "error", "attempts",
		"headers", "params", "body", "context", "created_at"}
	mock.ExpectQuery(`FROM dead_letters ORDER BY created_at DESC`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(2, "http_dead_letter", "run-2", "paper", "GET", "http://b/v2/orders", nil, "timeout", 7,
				nil, []byte(`{"status":"open"}`), nil, nil, now).
			AddRow(1, "http_dead_letter", "run-1", "paper", "POST", "http://b/v2/orders", 429, "throttled", 7,
				nil, nil, []byte(`{}`), []byte(`{"leg":"A"}`), now))

	out, err := NewDeadLetterRepository(db).GetRecent(context.Background(), 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if out[0].Status != nil || out[0].Params["status"] != "open" {
		t.Errorf("first record = %+v", out[0])
	}
	if out[1].Status == nil || *out[1].Status != 429 || out[1].Context["leg"] != "A" {
		t.Errorf("second record = %+v", out[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

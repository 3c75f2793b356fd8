package repository

import (
	"context"
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"statarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DeadLetterRepository - таблица dead_letters.
// Записи только добавляются; повторно они не исполняются.
type DeadLetterRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewDeadLetterRepository создает новый экземпляр репозитория
func NewDeadLetterRepository(db *sql.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, now: time.Now}
}

// Record сохраняет dead letter запись
func (r *DeadLetterRepository) Record(ctx context.Context, dl *models.DeadLetter) error {
	headers, err := marshalNullable(dl.Headers)
	if err != nil {
		return err
	}
	params, err := marshalNullable(dl.Params)
	if err != nil {
		return err
	}
	dlContext, err := marshalNullable(dl.Context)
	if err != nil {
		return err
	}

	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = r.now().UTC()
	}

	query := `
		INSERT INTO dead_letters (event, run_id, mode, method, url, status, error, attempts, headers, params, body, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12::jsonb, $13)
		RETURNING id`

	var status sql.NullInt64
	if dl.Status != nil {
		status = sql.NullInt64{Int64: int64(*dl.Status), Valid: true}
	}

	return r.db.QueryRowContext(ctx, query,
		dl.Event,
		dl.RunID,
		dl.Mode,
		dl.Method,
		dl.URL,
		status,
		dl.Error,
		dl.Attempts,
		headers,
		params,
		nullString(dl.Body),
		dlContext,
		dl.CreatedAt,
	).Scan(&dl.ID)
}

// GetRecent возвращает последние записи, новые первыми
func (r *DeadLetterRepository) GetRecent(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, event, run_id, mode, method, url, status, error, attempts, headers, params, body, context, created_at
		FROM dead_letters
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		var (
			dl                     models.DeadLetter
			status                 sql.NullInt64
			body                   sql.NullString
			headers, params, dlCtx []byte
		)
		if err := rows.Scan(&dl.ID, &dl.Event, &dl.RunID, &dl.Mode, &dl.Method, &dl.URL, &status, &dl.Error,
			&dl.Attempts, &headers, &params, &body, &dlCtx, &dl.CreatedAt); err != nil {
			return nil, err
		}
		if status.Valid {
			s := int(status.Int64)
			dl.Status = &s
		}
		dl.Body = body.String
		if err := unmarshalNullable(headers, &dl.Headers); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(params, &dl.Params); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(dlCtx, &dl.Context); err != nil {
			return nil, err
		}
		out = append(out, &dl)
	}

	return out, rows.Err()
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	switch m := v.(type) {
	case map[string]string:
		if len(m) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]interface{}:
		if len(m) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"statarb/internal/models"
)

// SignalRepository - чтение таблицы signals
type SignalRepository struct {
	db *sql.DB
}

// NewSignalRepository создает новый экземпляр репозитория
func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// LatestForPairs возвращает последний сигнал по каждой паре из списка.
// Пары без сигналов в результат не попадают.
func (r *SignalRepository) LatestForPairs(ctx context.Context, pairIDs []int) (map[int]*models.Signal, error) {
	out := make(map[int]*models.Signal, len(pairIDs))
	if len(pairIDs) == 0 {
		return out, nil
	}

	ids := make([]int64, len(pairIDs))
	for i, id := range pairIDs {
		ids[i] = int64(id)
	}

	query := `
		SELECT DISTINCT ON (pair_id) pair_id, ts, zscore, action, run_id
		FROM signals
		WHERE pair_id = ANY($1)
		ORDER BY pair_id, ts DESC`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s     models.Signal
			runID sql.NullString
		)
		if err := rows.Scan(&s.PairID, &s.TS, &s.ZScore, &s.Action, &runID); err != nil {
			return nil, err
		}
		s.RunID = runID.String
		out[s.PairID] = &s
	}

	return out, rows.Err()
}

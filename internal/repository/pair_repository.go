package repository

import (
	"context"
	"database/sql"
	"errors"

	"statarb/internal/models"
)

// Ошибки репозитория пар
var (
	ErrPairNotFound = errors.New("pair not found")
)

// PairRepository - чтение таблицы pairs
type PairRepository struct {
	db *sql.DB
}

// NewPairRepository создает новый экземпляр репозитория
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

// GetEnabled возвращает включенные пары в порядке id
func (r *PairRepository) GetEnabled(ctx context.Context, limit int) ([]*models.Pair, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, symbol_1, symbol_2, hedge_ratio, enabled
		FROM pairs
		WHERE enabled = TRUE
		ORDER BY id
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*models.Pair
	for rows.Next() {
		p := &models.Pair{}
		if err := rows.Scan(&p.ID, &p.SymbolA, &p.SymbolB, &p.HedgeRatio, &p.Enabled); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}

	return pairs, rows.Err()
}

// GetByID возвращает пару по ID
func (r *PairRepository) GetByID(ctx context.Context, id int) (*models.Pair, error) {
	query := `
		SELECT id, symbol_1, symbol_2, hedge_ratio, enabled
		FROM pairs
		WHERE id = $1`

	p := &models.Pair{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.SymbolA, &p.SymbolB, &p.HedgeRatio, &p.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPairNotFound
		}
		return nil, err
	}

	return p, nil
}

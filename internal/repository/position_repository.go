package repository

import (
	"context"
	"database/sql"

	"statarb/internal/models"
)

// PositionRepository - чтение таблицы positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// GetAll возвращает все позиции
func (r *PositionRepository) GetAll(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT symbol, qty, COALESCE(avg_cost, 0), updated_at
		FROM positions
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		var updated sql.NullTime
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgCost, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt = updated.Time
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"statarb/internal/models"
)

// Ошибки репозитория цен
var (
	ErrPriceNotFound = errors.New("price not found")
)

// PriceRepository - чтение таблицы prices
type PriceRepository struct {
	db *sql.DB
}

// NewPriceRepository создает новый экземпляр репозитория
func NewPriceRepository(db *sql.DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// LatestPrice возвращает последний бар по символу
func (r *PriceRepository) LatestPrice(ctx context.Context, symbol string) (*models.PricePoint, error) {
	query := `
		SELECT symbol, ts, close
		FROM prices
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT 1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, symbol))
}

// PriceAsOf возвращает последний бар не позже cutoff
func (r *PriceRepository) PriceAsOf(ctx context.Context, symbol string, cutoff time.Time) (*models.PricePoint, error) {
	query := `
		SELECT symbol, ts, close
		FROM prices
		WHERE symbol = $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT 1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, symbol, cutoff))
}

// LatestPrices возвращает последний бар по каждому символу одним запросом.
// Символы без цен в результат не попадают.
func (r *PriceRepository) LatestPrices(ctx context.Context, symbols []string) (map[string]*models.PricePoint, error) {
	out := make(map[string]*models.PricePoint, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	query := `
		SELECT DISTINCT ON (symbol) symbol, ts, close
		FROM prices
		WHERE symbol = ANY($1)
		ORDER BY symbol, ts DESC`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(symbols))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p := &models.PricePoint{}
		if err := rows.Scan(&p.Symbol, &p.TS, &p.Close); err != nil {
			return nil, err
		}
		out[p.Symbol] = p
	}

	return out, rows.Err()
}

func (r *PriceRepository) scanOne(row *sql.Row) (*models.PricePoint, error) {
	p := &models.PricePoint{}
	if err := row.Scan(&p.Symbol, &p.TS, &p.Close); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPriceNotFound
		}
		return nil, err
	}
	return p, nil
}

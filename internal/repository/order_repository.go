package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"statarb/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepository - журнал ордеров (таблица orders).
//
// Уникальный индекс по client_order_id - единственный механизм
// согласованности между процессами: повторная запись того же ключа
// превращается в обновление, а не в дубль.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

const orderColumns = `id, client_order_id, alpaca_order_id, pair_id, leg, symbol, side, qty, filled_qty,
		order_type, time_in_force, status, submitted_at, raw, run_id, created_at, updated_at`

// GetByClientOrderID возвращает запись по ключу идемпотентности
func (r *OrderRepository) GetByClientOrderID(ctx context.Context, clientOrderID string) (*models.OrderRecord, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE client_order_id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, clientOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// Upsert вставляет запись или обновляет существующую с тем же client_order_id.
//
// Обновляются только поля, которые сообщает брокер: id у брокера, статус,
// исполненный объем, время подачи и сырой ответ. Пустой id брокера не
// затирает уже известный.
func (r *OrderRepository) Upsert(ctx context.Context, order *models.OrderRecord) error {
	query := `
		INSERT INTO orders (client_order_id, alpaca_order_id, pair_id, leg, symbol, side, qty, filled_qty,
			order_type, time_in_force, status, submitted_at, raw, run_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $15)
		ON CONFLICT (client_order_id) DO UPDATE
		SET alpaca_order_id = COALESCE(EXCLUDED.alpaca_order_id, orders.alpaca_order_id),
			status = EXCLUDED.status,
			filled_qty = EXCLUDED.filled_qty,
			submitted_at = COALESCE(EXCLUDED.submitted_at, orders.submitted_at),
			raw = COALESCE(EXCLUDED.raw, orders.raw),
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	now := r.now().UTC()

	err := r.db.QueryRowContext(ctx, query,
		order.ClientOrderID,
		nullString(order.BrokerOrderID),
		nullInt(order.PairID),
		nullString(order.Leg),
		order.Symbol,
		order.Side,
		order.Quantity,
		order.FilledQty,
		order.OrderType,
		order.TimeInForce,
		order.Status,
		order.SubmittedAt,
		nullString(string(order.Raw)),
		nullString(order.RunID),
		now,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)

	return err
}

// GetRecent возвращает последние записи журнала, новые первыми
func (r *OrderRepository) GetRecent(ctx context.Context, limit int) ([]*models.OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		ORDER BY updated_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.OrderRecord
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

// GetByRun возвращает все записи, созданные прогоном runID
func (r *OrderRepository) GetByRun(ctx context.Context, runID string) ([]*models.OrderRecord, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE run_id = $1
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.OrderRecord
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.OrderRecord, error) {
	var (
		order       models.OrderRecord
		brokerID    sql.NullString
		pairID      sql.NullInt64
		leg         sql.NullString
		filledQty   decimal.NullDecimal
		submittedAt sql.NullTime
		raw         []byte
		runID       sql.NullString
	)

	err := row.Scan(
		&order.ID,
		&order.ClientOrderID,
		&brokerID,
		&pairID,
		&leg,
		&order.Symbol,
		&order.Side,
		&order.Quantity,
		&filledQty,
		&order.OrderType,
		&order.TimeInForce,
		&order.Status,
		&submittedAt,
		&raw,
		&runID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.BrokerOrderID = brokerID.String
	order.PairID = int(pairID.Int64)
	order.Leg = leg.String
	if filledQty.Valid {
		order.FilledQty = filledQty.Decimal
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		order.SubmittedAt = &t
	}
	if len(raw) > 0 {
		order.Raw = raw
	}
	order.RunID = runID.String

	return &order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - DDL всех таблиц исполнителя. Только CREATE ... IF NOT EXISTS,
// поэтому Migrate можно вызывать на каждом старте.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS prices (
		symbol TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		open NUMERIC NOT NULL,
		high NUMERIC NOT NULL,
		low NUMERIC NOT NULL,
		close NUMERIC NOT NULL,
		volume NUMERIC,
		PRIMARY KEY (symbol, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS pairs (
		id SERIAL PRIMARY KEY,
		symbol_1 TEXT NOT NULL,
		symbol_2 TEXT NOT NULL,
		hedge_ratio NUMERIC NOT NULL DEFAULT 1,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (symbol_1, symbol_2)
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		pair_id INTEGER NOT NULL REFERENCES pairs(id),
		ts TIMESTAMPTZ NOT NULL,
		zscore NUMERIC NOT NULL,
		action TEXT NOT NULL,
		run_id TEXT,
		UNIQUE (pair_id, ts, run_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_pair_ts ON signals (pair_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		alpaca_order_id TEXT,
		client_order_id TEXT NOT NULL UNIQUE,
		pair_id INTEGER,
		leg TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty NUMERIC NOT NULL,
		filled_qty NUMERIC,
		order_type TEXT NOT NULL,
		time_in_force TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at TIMESTAMPTZ,
		raw JSONB,
		run_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_run ON orders (run_id)`,
	`CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		qty NUMERIC NOT NULL,
		avg_cost NUMERIC,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id BIGSERIAL PRIMARY KEY,
		event TEXT NOT NULL,
		run_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status INTEGER,
		error TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		headers JSONB,
		params JSONB,
		body TEXT,
		context JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate создает недостающие таблицы в одной транзакции
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}

	return tx.Commit()
}

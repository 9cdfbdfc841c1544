package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cemetery-system/payment-service/internal/config"
	_ "github.com/lib/pq"
)

func NewDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database open error: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping error: %w", err)
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS service_order (
		id           UUID PRIMARY KEY,
		order_no     VARCHAR(64) NOT NULL UNIQUE,
		user_id      UUID,
		total_amount NUMERIC(12, 2) NOT NULL,
		status       VARCHAR(32) NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS payment_record (
		id              UUID PRIMARY KEY,
		payment_no      VARCHAR(32) NOT NULL UNIQUE,
		order_id        UUID NOT NULL,
		order_no        VARCHAR(64) NOT NULL,
		user_id         UUID,
		payment_amount  NUMERIC(12, 2) NOT NULL CHECK (payment_amount > 0),
		payment_method  VARCHAR(16) NOT NULL,
		payment_channel VARCHAR(64),
		transaction_id  VARCHAR(64),
		payment_status  VARCHAR(16) NOT NULL,
		payment_time    TIMESTAMPTZ,
		refund_amount   NUMERIC(12, 2) NOT NULL DEFAULT 0,
		refund_reason   TEXT,
		refund_time     TIMESTAMPTZ,
		notify_time     TIMESTAMPTZ,
		notify_data     TEXT,
		version         BIGINT NOT NULL DEFAULT 0,
		create_time     TIMESTAMPTZ NOT NULL,
		update_time     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_record_order_id ON payment_record (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_record_order_no ON payment_record (order_no)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_record_user_id ON payment_record (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_record_status ON payment_record (payment_status, create_time)`,
}

// Migrate creates the payment tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d error: %w", i+1, err)
		}
	}
	return nil
}

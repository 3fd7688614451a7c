package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const couponSchema = `
CREATE TABLE IF NOT EXISTS coupons (
    id                 TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    discount_type      TEXT NOT NULL,
    discount_value     BIGINT NOT NULL,
    total_quantity     BIGINT NOT NULL,
    remaining_quantity BIGINT NOT NULL CHECK (remaining_quantity >= 0),
    valid_from         TIMESTAMPTZ NOT NULL,
    valid_until        TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS coupon_claims (
    id         TEXT PRIMARY KEY,
    request_id TEXT,
    coupon_id  TEXT NOT NULL REFERENCES coupons (id),
    user_id    TEXT NOT NULL,
    issued_at  TIMESTAMPTZ NOT NULL,
    UNIQUE (coupon_id, user_id)
);

ALTER TABLE coupon_claims ADD COLUMN IF NOT EXISTS request_id TEXT;`

// OpenPostgres opens a pool, pings it and applies the coupon schema.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the coupon tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, couponSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

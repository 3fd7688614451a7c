package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

// PgxDB is the part of *pgxpool.Pool the repository uses.
type PgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

const selectCoupon = `
SELECT id, name, discount_type, discount_value, total_quantity, remaining_quantity,
       valid_from, valid_until, created_at
FROM coupons WHERE id = $1`

// PostgresRepository serializes claims on a coupon with SELECT ... FOR UPDATE.
type PostgresRepository struct {
	db PgxDB
}

func NewPostgresRepository(db PgxDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *Coupon) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO coupons (id, name, discount_type, discount_value, total_quantity, remaining_quantity,
                     valid_from, valid_until, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.DiscountType, c.DiscountValue, c.TotalQuantity, c.RemainingQuantity,
		c.ValidFrom, nullTime(c), c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCouponExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Coupon, error) {
	return scanCoupon(r.db.QueryRow(ctx, selectCoupon, id))
}

func (r *PostgresRepository) Claim(ctx context.Context, claim Claim) (*Issued, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	c, err := scanCoupon(tx.QueryRow(ctx, selectCoupon+" FOR UPDATE", claim.CouponID))
	if err != nil {
		return nil, err
	}

	// the coupon row lock also serializes claims on it, so this read is current
	existing, err := findClaim(ctx, tx, claim.CouponID, claim.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.madeBy(claim) {
		return &Issued{Coupon: c, Claim: *existing, Replayed: true}, nil
	}
	if !c.Active(claim.IssuedAt) {
		return nil, issuance.ErrCouponNotActive
	}
	if existing != nil {
		return nil, issuance.ErrAlreadyIssued
	}
	if c.RemainingQuantity <= 0 {
		return nil, issuance.ErrStockExhausted
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO coupon_claims (id, request_id, coupon_id, user_id, issued_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (coupon_id, user_id) DO NOTHING`,
		claim.ID, nullString(claim.RequestID), claim.CouponID, claim.UserID, claim.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, issuance.ErrAlreadyIssued
	}

	if _, err := tx.Exec(ctx, `UPDATE coupons SET remaining_quantity = remaining_quantity - 1 WHERE id = $1`, c.ID); err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	c.RemainingQuantity--
	return &Issued{Coupon: c, Claim: claim}, nil
}

func findClaim(ctx context.Context, tx pgx.Tx, couponID, userID string) (*Claim, error) {
	var cl Claim
	err := tx.QueryRow(ctx, `
SELECT id, COALESCE(request_id, ''), coupon_id, user_id, issued_at
FROM coupon_claims WHERE coupon_id = $1 AND user_id = $2`, couponID, userID).
		Scan(&cl.ID, &cl.RequestID, &cl.CouponID, &cl.UserID, &cl.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find claim: %w", err)
	}
	return &cl, nil
}

func scanCoupon(row pgx.Row) (*Coupon, error) {
	var c Coupon
	var validUntil *time.Time
	err := row.Scan(&c.ID, &c.Name, &c.DiscountType, &c.DiscountValue, &c.TotalQuantity,
		&c.RemainingQuantity, &c.ValidFrom, &validUntil, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, issuance.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan coupon: %w", err)
	}
	if validUntil != nil {
		c.ValidUntil = *validUntil
	}
	return &c, nil
}

func nullTime(c *Coupon) *time.Time {
	if c.ValidUntil.IsZero() {
		return nil
	}
	return &c.ValidUntil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

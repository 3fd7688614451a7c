// Package coupons implements coupon issuance: the transactional, stock
// guarded operation the pipeline workers call for every request.
package coupons

import (
	"context"
	"errors"
	"time"
)

// DiscountType values.
const (
	DiscountPercent = "PERCENT"
	DiscountFixed   = "FIXED"
)

// Coupon is an issuable coupon with finite stock.
type Coupon struct {
	ID                string    `json:"id" bson:"_id" dynamodbav:"coupon_id"` // PK
	Name              string    `json:"name" bson:"name" dynamodbav:"name"`
	DiscountType      string    `json:"discount_type" bson:"discount_type" dynamodbav:"discount_type"`
	DiscountValue     int64     `json:"discount_value" bson:"discount_value" dynamodbav:"discount_value"`
	TotalQuantity     int64     `json:"total_quantity" bson:"total_quantity" dynamodbav:"total_quantity"`
	RemainingQuantity int64     `json:"remaining_quantity" bson:"remaining_quantity" dynamodbav:"remaining_quantity"`
	ValidFrom         time.Time `json:"valid_from" bson:"valid_from" dynamodbav:"valid_from"`
	ValidUntil        time.Time `json:"valid_until" bson:"valid_until" dynamodbav:"valid_until"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at" dynamodbav:"created_at"`
}

// Active reports whether the coupon can be issued at t. A zero ValidUntil
// never expires.
func (c *Coupon) Active(t time.Time) bool {
	if t.Before(c.ValidFrom) {
		return false
	}
	return c.ValidUntil.IsZero() || t.Before(c.ValidUntil)
}

// Claim records one coupon issued to one user. (CouponID, UserID) is unique.
// RequestID names the pipeline request that made the claim.
type Claim struct {
	ID        string    `json:"id" bson:"_id" dynamodbav:"claim_id"`
	RequestID string    `json:"request_id" bson:"request_id" dynamodbav:"request_id"`
	CouponID  string    `json:"coupon_id" bson:"coupon_id" dynamodbav:"coupon_id"`
	UserID    string    `json:"user_id" bson:"user_id" dynamodbav:"user_id"`
	IssuedAt  time.Time `json:"issued_at" bson:"issued_at" dynamodbav:"issued_at"`
}

// madeBy reports whether the stored claim c was made by the same request as
// attempt. Claims without a request id never match.
func (c Claim) madeBy(attempt Claim) bool {
	return attempt.RequestID != "" && c.RequestID == attempt.RequestID
}

// Issued is a successful claim: the stored claim and the coupon after it.
type Issued struct {
	Coupon *Coupon
	Claim  Claim
	// Replayed is set when the claim already existed for the same request.
	Replayed bool
}

var (
	ErrCouponExists  = errors.New("coupons: coupon already exists")
	ErrInvalidCoupon = errors.New("coupons: invalid coupon")
)

// Repository persists coupons and claims.
//
// Claim must be atomic: it checks the coupon exists and is active at
// claim.IssuedAt, that the user holds no claim yet, and that stock remains,
// then decrements stock and stores the claim. Rejections are the issuance
// business errors (ErrCouponNotFound, ErrCouponNotActive, ErrAlreadyIssued,
// ErrStockExhausted), checked in that order.
//
// When the user already holds a claim made by claim.RequestID, Claim returns
// that claim with Replayed set instead of a rejection, and stock is untouched.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, id string) (*Coupon, error)
	Claim(ctx context.Context, claim Claim) (*Issued, error)
}

package issuance

import (
	"context"
	"time"
)

// Request is the unit of work carried through the pipeline queues. Only
// RetryCount changes after intake.
type Request struct {
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	CouponID   string    `json:"coupon_id"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Result describes a coupon that was successfully issued to a user.
type Result struct {
	IssueID       string    `json:"issue_id" dynamodbav:"issue_id"`
	CouponID      string    `json:"coupon_id" dynamodbav:"coupon_id"`
	UserID        string    `json:"user_id" dynamodbav:"user_id"`
	CouponName    string    `json:"coupon_name,omitempty" dynamodbav:"coupon_name,omitempty"`
	DiscountType  string    `json:"discount_type" dynamodbav:"discount_type"`
	DiscountValue int64     `json:"discount_value" dynamodbav:"discount_value"`
	IssuedAt      time.Time `json:"issued_at" dynamodbav:"issued_at"`
}

// Issuer performs the transactional, lock-protected stock decrement for one
// issuance. It must return a *BusinessError (matching ErrBusiness) for
// deterministic rejections; every other error is treated as transient.
//
// Issue is called at least once per request. A repeat call for a request that
// already succeeded must return the original Result, not a rejection.
type Issuer interface {
	Issue(ctx context.Context, req Request) (*Result, error)
}

// IssuerFunc adapts a function to the Issuer interface.
type IssuerFunc func(ctx context.Context, req Request) (*Result, error)

// Issue calls f.
func (f IssuerFunc) Issue(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

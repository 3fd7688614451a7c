package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/coupons"
	"github.com/imrishuroy/go-coupon-issuance/internal/dlq"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

// Enqueuer admits issuance requests.
type Enqueuer interface {
	EnqueueWithKey(ctx context.Context, key, userID, couponID string) (string, bool, error)
}

// StateReader answers status polls.
type StateReader interface {
	Get(ctx context.Context, requestID string) (*state.RequestState, error)
}

// DeadLetterAdmin is the operator surface of the dead letter store.
type DeadLetterAdmin interface {
	List(ctx context.Context) ([]dlq.Entry, error)
	Requeue(ctx context.Context, requestID string) error
	Remove(ctx context.Context, requestID string) error
	Health(ctx context.Context) (dlq.HealthStatus, error)
}

// CouponAdmin creates and inspects coupons.
type CouponAdmin interface {
	Create(ctx context.Context, in coupons.CreateInput) (*coupons.Coupon, error)
	Get(ctx context.Context, id string) (*coupons.Coupon, error)
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Intake  Enqueuer
	States  StateReader
	DLQ     DeadLetterAdmin
	Coupons CouponAdmin
	Logger  zerolog.Logger
}

package coupons

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
)

// CreateInput describes a new coupon.
type CreateInput struct {
	Name          string
	DiscountType  string
	DiscountValue int64
	Quantity      int64
	ValidFrom     time.Time
	ValidUntil    time.Time
}

// Service issues coupons. It implements issuance.Issuer.
type Service struct {
	repo    Repository
	timeout time.Duration
	logger  zerolog.Logger
	nowFunc func() time.Time
	newID   func() string
}

var _ issuance.Issuer = (*Service)(nil)

// NewService returns a Service bounding every issuance by timeout.
func NewService(repo Repository, timeout time.Duration, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		timeout: timeout,
		logger:  logger.Component(log, "coupons"),
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Issue claims one unit of req.CouponID for req.UserID. Business rejections
// are returned as issuance business errors; anything else, including the
// timeout, is a system failure. A request that already holds its claim gets
// the original result back.
func (s *Service) Issue(ctx context.Context, req issuance.Request) (*issuance.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	issued, err := s.repo.Claim(ctx, Claim{
		ID:        s.newID(),
		RequestID: req.RequestID,
		CouponID:  req.CouponID,
		UserID:    req.UserID,
		IssuedAt:  s.nowFunc().UTC(),
	})
	if err != nil {
		return nil, err
	}

	c, claim := issued.Coupon, issued.Claim
	s.logger.Debug().
		Str("request_id", req.RequestID).
		Str("coupon_id", c.ID).
		Str("user_id", claim.UserID).
		Int64("remaining", c.RemainingQuantity).
		Bool("replayed", issued.Replayed).
		Msg("coupon issued")

	return &issuance.Result{
		IssueID:       claim.ID,
		CouponID:      c.ID,
		UserID:        claim.UserID,
		CouponName:    c.Name,
		DiscountType:  c.DiscountType,
		DiscountValue: c.DiscountValue,
		IssuedAt:      claim.IssuedAt,
	}, nil
}

// Create stores a new coupon with its full quantity in stock.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Coupon, error) {
	if in.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidCoupon)
	}
	if in.DiscountType != DiscountPercent && in.DiscountType != DiscountFixed {
		return nil, fmt.Errorf("%w: unknown discount type %q", ErrInvalidCoupon, in.DiscountType)
	}
	if in.DiscountType == DiscountPercent && (in.DiscountValue < 1 || in.DiscountValue > 100) {
		return nil, fmt.Errorf("%w: percent discount must be within 1..100", ErrInvalidCoupon)
	}
	now := s.nowFunc().UTC()
	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	if !in.ValidUntil.IsZero() && !in.ValidUntil.After(validFrom) {
		return nil, fmt.Errorf("%w: valid_until must be after valid_from", ErrInvalidCoupon)
	}

	c := &Coupon{
		ID:                s.newID(),
		Name:              in.Name,
		DiscountType:      in.DiscountType,
		DiscountValue:     in.DiscountValue,
		TotalQuantity:     in.Quantity,
		RemainingQuantity: in.Quantity,
		ValidFrom:         validFrom.UTC(),
		ValidUntil:        in.ValidUntil.UTC(),
		CreatedAt:         now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().Str("coupon_id", c.ID).Int64("quantity", c.TotalQuantity).Msg("coupon created")
	return c, nil
}

// Get returns the coupon with its current remaining quantity.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.Get(ctx, id)
}

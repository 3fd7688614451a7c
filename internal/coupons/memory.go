package coupons

import (
	"context"
	"sync"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

type memClaimKey struct {
	couponID string
	userID   string
}

// MemoryRepository keeps coupons in process. One mutex serializes every
// claim, standing in for a row lock.
type MemoryRepository struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
	claims  map[memClaimKey]Claim
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		coupons: map[string]*Coupon{},
		claims:  map[memClaimKey]Claim{},
	}
}

func (r *MemoryRepository) Create(_ context.Context, c *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[c.ID]; ok {
		return ErrCouponExists
	}
	cp := *c
	r.coupons[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return nil, issuance.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) Claim(ctx context.Context, claim Claim) (*Issued, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[claim.CouponID]
	if !ok {
		return nil, issuance.ErrCouponNotFound
	}
	key := memClaimKey{couponID: claim.CouponID, userID: claim.UserID}
	existing, dup := r.claims[key]
	if dup && existing.madeBy(claim) {
		cp := *c
		return &Issued{Coupon: &cp, Claim: existing, Replayed: true}, nil
	}
	if !c.Active(claim.IssuedAt) {
		return nil, issuance.ErrCouponNotActive
	}
	if dup {
		return nil, issuance.ErrAlreadyIssued
	}
	if c.RemainingQuantity <= 0 {
		return nil, issuance.ErrStockExhausted
	}
	c.RemainingQuantity--
	r.claims[key] = claim
	cp := *c
	return &Issued{Coupon: &cp, Claim: claim}, nil
}

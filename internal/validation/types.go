package validation

import "time"

// IssueCouponRequest is the payload for POST /issuances.
type IssueCouponRequest struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	CouponID string `json:"coupon_id" validate:"required,max=128"`
}

// CreateCouponRequest is the payload for POST /coupons.
type CreateCouponRequest struct {
	Name          string     `json:"name" validate:"required,max=200"`
	DiscountType  string     `json:"discount_type" validate:"required,oneof=PERCENT FIXED"`
	DiscountValue int64      `json:"discount_value" validate:"required,gt=0"` // percent points or minor currency units
	Quantity      int64      `json:"quantity" validate:"required,min=1"`
	ValidFrom     *time.Time `json:"valid_from,omitempty"`  // defaults to now
	ValidUntil    *time.Time `json:"valid_until,omitempty"` // open-ended when absent
}

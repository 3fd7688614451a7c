package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a validator that reports JSON field names and has the
// struct-level coupon rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonFieldName)

	v.RegisterStructValidation(createCouponStructValidation, CreateCouponRequest{})

	return v
}

// createCouponStructValidation caps percent discounts at 100 and requires a
// non-empty validity window.
func createCouponStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateCouponRequest)

	if req.DiscountType == "PERCENT" && req.DiscountValue > 100 {
		sl.ReportError(req.DiscountValue, "discount_value", "DiscountValue", "percent_max", "100")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		sl.ReportError(req.ValidUntil, "valid_until", "ValidUntil", "after_valid_from", "")
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

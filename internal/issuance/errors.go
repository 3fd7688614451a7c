package issuance

import (
	"errors"
	"fmt"
)

// ErrBusiness matches every deterministic business rejection. Retrying an
// error that matches it can never change the outcome.
var ErrBusiness = errors.New("business rule rejected issuance")

// BusinessError is a non-retryable rejection with a stable code.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string { return e.Message }

// Is makes every BusinessError match ErrBusiness.
func (e *BusinessError) Is(target error) bool { return target == ErrBusiness }

// Business rejections returned by issuers.
var (
	ErrStockExhausted  = &BusinessError{Code: "STOCK_EXHAUSTED", Message: "stock exhausted"}
	ErrAlreadyIssued   = &BusinessError{Code: "ALREADY_ISSUED", Message: "coupon already issued to this user"}
	ErrCouponNotActive = &BusinessError{Code: "COUPON_NOT_ACTIVE", Message: "coupon is not currently valid"}
	ErrCouponNotFound  = &BusinessError{Code: "COUPON_NOT_FOUND", Message: "coupon not found"}
)

// ErrMaxRetriesExceeded annotates a request escalated to the dead letter queue.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Outcome is the worker-facing classification of an issuance attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBusiness
	OutcomeSystem
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBusiness:
		return "business_failure"
	default:
		return "system_failure"
	}
}

// Classify maps an issuance error to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrBusiness):
		return OutcomeBusiness
	default:
		return OutcomeSystem
	}
}

// PanicError wraps a value recovered from a panicking issuer.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("issuer panic: %v", e.Value) }

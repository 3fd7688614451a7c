// Package state holds the externally observable projection of every issuance
// request. Clients poll it; only the pipeline writes it.
//
// Two TTL tiers are used. Working records (PENDING, RETRY) expire after the
// state TTL, sized to outlive the worst case time in the pipeline. Terminal
// records (COMPLETED, FAILED) are written with the longer result TTL so a late
// poll still sees the outcome. DLQ records also use the result TTL because they
// wait on an operator rather than on the retry schedule.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

// Status values.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRetry     Status = "RETRY"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusDLQ       Status = "DLQ"
	// StatusNotFound is synthetic: the record is unknown or has expired.
	StatusNotFound Status = "NOT_FOUND"
)

// Terminal reports whether s can never transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrAlreadyTerminal is returned when a write would move a request out of a
// terminal status.
var ErrAlreadyTerminal = errors.New("state: request already reached a terminal status")

// RequestState is what a polling client sees.
type RequestState struct {
	RequestID    string           `json:"request_id" dynamodbav:"request_id"`
	Status       Status           `json:"status" dynamodbav:"status"`
	RetryCount   int              `json:"retry_count" dynamodbav:"retry_count"`
	ErrorMessage string           `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	Result       *issuance.Result `json:"result,omitempty" dynamodbav:"result,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at" dynamodbav:"updated_at"`
}

// NotFound returns the synthetic state for an unknown request.
func NotFound(requestID string) *RequestState {
	return &RequestState{RequestID: requestID, Status: StatusNotFound}
}

// Store reads and writes request states.
type Store interface {
	// Get never reports absence as an error; it returns StatusNotFound instead.
	Get(ctx context.Context, requestID string) (*RequestState, error)
	// Save writes st with the TTL tier matching its status. It returns
	// ErrAlreadyTerminal if the request is already COMPLETED or FAILED.
	Save(ctx context.Context, st RequestState) error
	// Delete forgets the request entirely. Deleting an unknown request is not
	// an error.
	Delete(ctx context.Context, requestID string) error
}

// TTLs carries the two expiry tiers.
type TTLs struct {
	State  time.Duration
	Result time.Duration
}

func (t TTLs) forStatus(s Status) time.Duration {
	if s.Terminal() || s == StatusDLQ {
		return t.Result
	}
	return t.State
}

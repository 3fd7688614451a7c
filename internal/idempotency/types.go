// Package idempotency maps client supplied Idempotency-Key values to the
// request they admitted, so a retried POST returns the original request id.
package idempotency

import (
	"context"
	"time"
)

// Registry reserves idempotency keys.
type Registry interface {
	// Reserve binds key to requestID unless it is already bound. It returns
	// the owning request id and whether this call made the reservation.
	Reserve(ctx context.Context, key, requestID string) (owner string, reserved bool, err error)
	// Release drops the binding if it still belongs to requestID.
	Release(ctx context.Context, key, requestID string) error
}

// Record is the shape persisted in the idempotency DynamoDB table.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	RequestID      string    `dynamodbav:"request_id"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

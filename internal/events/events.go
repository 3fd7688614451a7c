// Package events publishes request lifecycle transitions to downstream
// consumers. Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

// Type identifies a lifecycle transition.
type Type string

const (
	TypeCompleted    Type = "issuance.completed"
	TypeFailed       Type = "issuance.failed"
	TypeRetry        Type = "issuance.retry"
	TypeDeadLettered Type = "issuance.dead_lettered"
	TypeRequeued     Type = "issuance.requeued"
	TypeRemoved      Type = "issuance.removed"
)

// Event is one transition of one request.
type Event struct {
	Type       Type             `json:"type"`
	RequestID  string           `json:"request_id"`
	UserID     string           `json:"user_id,omitempty"`
	CouponID   string           `json:"coupon_id,omitempty"`
	Status     string           `json:"status"`
	RetryCount int              `json:"retry_count"`
	Error      string           `json:"error,omitempty"`
	Result     *issuance.Result `json:"result,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns the smallest publisher covering ps: Nop for none, the
// publisher itself for one, Multi otherwise.
func Combine(ps ...Publisher) Publisher {
	var live []Publisher
	for _, p := range ps {
		if p != nil {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return Nop{}
	case 1:
		return live[0]
	default:
		return Multi(live)
	}
}

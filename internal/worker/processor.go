// Package worker drains the pending and retry queues.
//
// Items are claimed by moving them from the head of their queue to the tail of
// the worker instance's own in-flight list and acknowledged by removing them
// from that list once the onward write (state, retry queue or DLQ) succeeded.
// A crash between claim and acknowledgement leaves the item in flight until a
// live instance sees the crashed one's Lease lapse and puts it back, so
// delivery is at least once. The issuer tolerates the repeat.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/dlq"
	"github.com/imrishuroy/go-coupon-issuance/internal/events"
	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

// DeadLetters receives requests that exhausted their retries.
type DeadLetters interface {
	Push(ctx context.Context, e dlq.Entry) error
}

// Dependencies collects the collaborators shared by both workers.
type Dependencies struct {
	Backend     kv.Backend
	States      state.Store
	DeadLetters DeadLetters
	Issuer      issuance.Issuer
	Events      events.Publisher
	Logger      zerolog.Logger
	Now         func() time.Time
	NewID       func() string
	// InstanceID names the in-flight lists of this process. Workers sharing
	// a Lease must share it.
	InstanceID string
}

// TickStats counts what one tick did with the items it claimed.
type TickStats struct {
	Claimed      int
	Completed    int
	Failed       int
	Retried      int
	DeadLettered int
	Skipped      int
}

// processor holds what the primary and retry workers have in common.
type processor struct {
	keys    queue.Keys
	backend kv.Backend
	states  state.Store
	dead    DeadLetters
	issuer  issuance.Issuer
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
	owner   string
}

func newProcessor(name string, keys queue.Keys, deps Dependencies) (*processor, error) {
	if keys.Pending == "" || keys.Retry == "" || keys.DLQ == "" {
		return nil, errors.New("worker: pending, retry and dlq keys are required")
	}
	if deps.Backend == nil {
		return nil, errors.New("worker: backend dependency is required")
	}
	if deps.States == nil {
		return nil, errors.New("worker: state store dependency is required")
	}
	if deps.DeadLetters == nil {
		return nil, errors.New("worker: dead letter dependency is required")
	}
	if deps.Issuer == nil {
		return nil, errors.New("worker: issuer dependency is required")
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	owner := deps.InstanceID
	if owner == "" {
		owner = newID()
	}
	return &processor{
		keys:    keys,
		backend: deps.Backend,
		states:  deps.States,
		dead:    deps.DeadLetters,
		issuer:  deps.Issuer,
		events:  pub,
		logger:  logger.Component(deps.Logger, name),
		now:     now,
		newID:   newID,
		owner:   owner,
	}, nil
}

// claim moves the head of src into this instance's in-flight list.
func (p *processor) claim(ctx context.Context, src string) ([]byte, bool, error) {
	raw, ok, err := p.backend.Move(ctx, src, queue.Inflight(src, p.owner), kv.Head, kv.Tail)
	if err != nil {
		return nil, false, fmt.Errorf("claim from %s: %w", src, err)
	}
	return raw, ok, nil
}

// ack drops a claimed item once it has been routed onward.
func (p *processor) ack(ctx context.Context, src string, raw []byte) {
	if _, err := p.backend.Remove(ctx, queue.Inflight(src, p.owner), raw); err != nil {
		p.logger.Error().Err(err).Str("queue", src).Msg("ack in-flight item")
	}
}

// issue calls the issuer, turning a panic into a system failure.
func (p *processor) issue(ctx context.Context, req issuance.Request) (res *issuance.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &issuance.PanicError{Value: r}
		}
	}()
	res, err = p.issuer.Issue(ctx, req)
	if err == nil && res == nil {
		err = errors.New("issuer returned no result")
	}
	return res, err
}

// settled reports whether req already reached COMPLETED or FAILED, which
// happens when an item is redelivered after a crash.
func (p *processor) settled(ctx context.Context, req issuance.Request) bool {
	st, err := p.states.Get(ctx, req.RequestID)
	if err != nil {
		// unknown is treated as unsettled; the terminal write guards the rest
		p.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("read state before issue")
		return false
	}
	return st.Status.Terminal()
}

// finish writes a terminal state. A request that is already terminal counts
// as finished.
func (p *processor) finish(ctx context.Context, req issuance.Request, status state.Status, res *issuance.Result, errMsg string) error {
	err := p.states.Save(ctx, state.RequestState{
		RequestID:    req.RequestID,
		Status:       status,
		RetryCount:   req.RetryCount,
		ErrorMessage: errMsg,
		Result:       res,
		UpdatedAt:    p.now().UTC(),
	})
	if errors.Is(err, state.ErrAlreadyTerminal) {
		p.logger.Warn().Str("request_id", req.RequestID).Msg("request already terminal")
		return nil
	}
	if err != nil {
		return err
	}
	typ := events.TypeCompleted
	if status == state.StatusFailed {
		typ = events.TypeFailed
	}
	p.publish(ctx, typ, req, status, errMsg, res)
	p.logTransition(req, status).Str("error", errMsg).Msg("request finished")
	return nil
}

// toRetry appends req to the retry queue and records RETRY.
func (p *processor) toRetry(ctx context.Context, req issuance.Request, envelope []byte, errMsg string) error {
	if err := p.backend.Push(ctx, p.keys.Retry, envelope); err != nil {
		return fmt.Errorf("push retry: %w", err)
	}
	err := p.states.Save(ctx, state.RequestState{
		RequestID:    req.RequestID,
		Status:       state.StatusRetry,
		RetryCount:   req.RetryCount,
		ErrorMessage: errMsg,
		UpdatedAt:    p.now().UTC(),
	})
	if err != nil && !errors.Is(err, state.ErrAlreadyTerminal) {
		return fmt.Errorf("write retry state: %w", err)
	}
	p.publish(ctx, events.TypeRetry, req, state.StatusRetry, errMsg, nil)
	p.logTransition(req, state.StatusRetry).Str("error", errMsg).Msg("request scheduled for retry")
	return nil
}

// toDLQ parks req in the dead letter store and records DLQ.
func (p *processor) toDLQ(ctx context.Context, req issuance.Request, raw []byte, errMsg string) error {
	entry := dlq.Entry{Request: req, Error: errMsg, FailedAt: p.now().UTC()}
	if raw != nil {
		entry.Raw = string(raw)
	}
	if err := p.dead.Push(ctx, entry); err != nil {
		return err
	}
	if raw == nil {
		err := p.states.Save(ctx, state.RequestState{
			RequestID:    req.RequestID,
			Status:       state.StatusDLQ,
			RetryCount:   req.RetryCount,
			ErrorMessage: errMsg,
			UpdatedAt:    p.now().UTC(),
		})
		if err != nil && !errors.Is(err, state.ErrAlreadyTerminal) {
			return fmt.Errorf("write dlq state: %w", err)
		}
	}
	p.publish(ctx, events.TypeDeadLettered, req, state.StatusDLQ, errMsg, nil)
	p.logger.Warn().
		Str("request_id", req.RequestID).
		Str("user_id", req.UserID).
		Str("coupon_id", req.CouponID).
		Int("retry_count", req.RetryCount).
		Str("status", string(state.StatusDLQ)).
		Str("error", errMsg).
		Msg("request moved to dead letter queue")
	return nil
}

func (p *processor) publish(ctx context.Context, typ events.Type, req issuance.Request, status state.Status, errMsg string, res *issuance.Result) {
	err := p.events.Publish(ctx, events.Event{
		Type:       typ,
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		CouponID:   req.CouponID,
		Status:     string(status),
		RetryCount: req.RetryCount,
		Error:      errMsg,
		Result:     res,
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("request_id", req.RequestID).Str("event", string(typ)).Msg("publish event")
	}
}

func (p *processor) logTransition(req issuance.Request, status state.Status) *zerolog.Event {
	return p.logger.Info().
		Str("request_id", req.RequestID).
		Str("user_id", req.UserID).
		Str("coupon_id", req.CouponID).
		Int("retry_count", req.RetryCount).
		Str("status", string(status))
}

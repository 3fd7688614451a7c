package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/idempotency"
	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

// ErrInvalidRequest is returned for a blank user or coupon id.
var ErrInvalidRequest = errors.New("queue: user_id and coupon_id are required")

// IntakeDependencies collects the collaborators of an Intake. Keys defaults
// to a KV registry on Backend.
type IntakeDependencies struct {
	Backend kv.Backend
	States  state.Store
	Keys    idempotency.Registry
	Logger  zerolog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Intake admits issuance requests into the pending queue.
type Intake struct {
	keys    Keys
	backend kv.Backend
	states  state.Store
	idem    idempotency.Registry
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewIntake returns an Intake writing to keys.Pending. idempotencyTTL bounds
// how long an Idempotency-Key keeps mapping to its request.
func NewIntake(keys Keys, idempotencyTTL time.Duration, deps IntakeDependencies) (*Intake, error) {
	if keys.Pending == "" {
		return nil, errors.New("queue: pending queue key is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("queue: backend dependency is required")
	}
	if deps.States == nil {
		return nil, errors.New("queue: state store dependency is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	idem := deps.Keys
	if idem == nil {
		idem = idempotency.NewKVRegistry(deps.Backend, idempotencyTTL)
	}
	return &Intake{
		keys:    keys,
		backend: deps.Backend,
		states:  deps.States,
		idem:    idem,
		logger:  logger.Component(deps.Logger, "intake"),
		now:     now,
		newID:   newID,
	}, nil
}

// Enqueue admits one request and returns its id without waiting for it to be
// processed. On error nothing was admitted.
func (in *Intake) Enqueue(ctx context.Context, userID, couponID string) (string, error) {
	if userID == "" || couponID == "" {
		return "", ErrInvalidRequest
	}
	id := in.newID()
	if err := in.admit(ctx, id, userID, couponID); err != nil {
		return "", err
	}
	return id, nil
}

// EnqueueWithKey behaves like Enqueue but admits at most one request per
// key. A repeated key returns the original request id with created=false.
func (in *Intake) EnqueueWithKey(ctx context.Context, key, userID, couponID string) (string, bool, error) {
	if key == "" {
		id, err := in.Enqueue(ctx, userID, couponID)
		return id, err == nil, err
	}
	if userID == "" || couponID == "" {
		return "", false, ErrInvalidRequest
	}

	id := in.newID()
	owner, reserved, err := in.idem.Reserve(ctx, key, id)
	if err != nil {
		return "", false, err
	}
	if !reserved {
		in.logger.Debug().Str("idempotency_key", key).Str("request_id", owner).Msg("duplicate admission")
		return owner, false, nil
	}

	if err := in.admit(ctx, id, userID, couponID); err != nil {
		if delErr := in.idem.Release(ctx, key, id); delErr != nil {
			in.logger.Error().Err(delErr).Str("idempotency_key", key).Msg("release idempotency key")
		}
		return "", false, err
	}
	return id, true, nil
}

// admit writes the PENDING state and then pushes the envelope. The state goes
// first so a worker that pops the item immediately never has its outcome
// overwritten by PENDING.
func (in *Intake) admit(ctx context.Context, id, userID, couponID string) error {
	now := in.now().UTC()
	req := issuance.Request{
		RequestID:  id,
		UserID:     userID,
		CouponID:   couponID,
		EnqueuedAt: now,
	}
	raw, err := Encode(req)
	if err != nil {
		return err
	}

	if err := in.states.Save(ctx, state.RequestState{
		RequestID: id,
		Status:    state.StatusPending,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("write pending state: %w", err)
	}
	if err := in.backend.Push(ctx, in.keys.Pending, raw); err != nil {
		if delErr := in.states.Delete(ctx, id); delErr != nil {
			in.logger.Error().Err(delErr).Str("request_id", id).Msg("roll back pending state")
		}
		return fmt.Errorf("push pending: %w", err)
	}

	in.logger.Debug().
		Str("request_id", id).
		Str("user_id", userID).
		Str("coupon_id", couponID).
		Msg("request admitted")
	return nil
}

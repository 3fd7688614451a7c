// Package dlq holds requests that exhausted their retry budget until an
// operator requeues or removes them.
package dlq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/events"
	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

var (
	// ErrEntryNotFound is returned when no entry carries the request id.
	ErrEntryNotFound = errors.New("dlq: entry not found")
	// ErrUnrecoverable is returned when requeueing an entry whose original
	// envelope could not be decoded.
	ErrUnrecoverable = errors.New("dlq: entry has no decodable request and can only be removed")
)

// Entry is a frozen copy of a request plus the error that terminated it.
// Raw holds the original queue item when it could not be decoded.
type Entry struct {
	issuance.Request
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Raw      string    `json:"raw,omitempty"`
}

// Recoverable reports whether the entry can go back through the pipeline.
func (e Entry) Recoverable() bool { return e.Raw == "" }

// HealthStatus summarizes pipeline depth.
type HealthStatus struct {
	PendingCount int64 `json:"pending_count"`
	RetryCount   int64 `json:"retry_count"`
	DLQCount     int64 `json:"dlq_count"`
	IsHealthy    bool  `json:"is_healthy"`
}

// Dependencies collects the collaborators of a Store.
type Dependencies struct {
	Backend kv.Backend
	States  state.Store
	Events  events.Publisher
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Store is the dead letter store.
type Store struct {
	keys      queue.Keys
	threshold int64
	backend   kv.Backend
	states    state.Store
	events    events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewStore returns a Store over keys. Health turns unhealthy once more than
// threshold entries are waiting.
func NewStore(keys queue.Keys, threshold int, deps Dependencies) (*Store, error) {
	if keys.DLQ == "" || keys.Retry == "" || keys.Pending == "" {
		return nil, errors.New("dlq: pending, retry and dlq keys are required")
	}
	if threshold < 0 {
		return nil, errors.New("dlq: health threshold cannot be negative")
	}
	if deps.Backend == nil {
		return nil, errors.New("dlq: backend dependency is required")
	}
	if deps.States == nil {
		return nil, errors.New("dlq: state store dependency is required")
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		keys:      keys,
		threshold: int64(threshold),
		backend:   deps.Backend,
		states:    deps.States,
		events:    pub,
		logger:    logger.Component(deps.Logger, "dlq"),
		now:       now,
	}, nil
}

// Push appends an entry.
func (s *Store) Push(ctx context.Context, e Entry) error {
	if e.FailedAt.IsZero() {
		e.FailedAt = s.now().UTC()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode dlq entry %s: %w", e.RequestID, err)
	}
	if err := s.backend.Push(ctx, s.keys.DLQ, raw); err != nil {
		return fmt.Errorf("push dlq: %w", err)
	}
	return nil
}

// List returns every entry, oldest first, without removing anything.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	items, err := s.backend.Range(ctx, s.keys.DLQ)
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	out := make([]Entry, 0, len(items))
	for _, raw := range items {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.logger.Error().Err(err).Msg("skipping undecodable dlq entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Requeue moves the entry back to the retry queue with its retry count reset,
// giving it a full new retry cycle.
func (s *Store) Requeue(ctx context.Context, requestID string) error {
	e, raw, err := s.find(ctx, requestID)
	if err != nil {
		return err
	}
	if !e.Recoverable() {
		return ErrUnrecoverable
	}

	req := e.Request
	req.RetryCount = 0
	envelope, err := queue.Encode(req)
	if err != nil {
		return err
	}

	if err := s.states.Save(ctx, state.RequestState{
		RequestID:    requestID,
		Status:       state.StatusRetry,
		ErrorMessage: e.Error,
		UpdatedAt:    s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("write retry state: %w", err)
	}
	if err := s.backend.Push(ctx, s.keys.Retry, envelope); err != nil {
		s.restoreState(ctx, e)
		return fmt.Errorf("push retry: %w", err)
	}
	// pushed before removal: a failure here leaves a duplicate, never a loss
	if _, err := s.backend.Remove(ctx, s.keys.DLQ, raw); err != nil {
		return fmt.Errorf("remove dlq entry %s: %w", requestID, err)
	}

	s.logger.Info().Str("request_id", requestID).Msg("dlq entry requeued")
	s.publish(ctx, events.TypeRequeued, req, string(state.StatusRetry), e.Error)
	return nil
}

// Remove discards the entry and its state record.
func (s *Store) Remove(ctx context.Context, requestID string) error {
	e, raw, err := s.find(ctx, requestID)
	if err != nil {
		return err
	}
	n, err := s.backend.Remove(ctx, s.keys.DLQ, raw)
	if err != nil {
		return fmt.Errorf("remove dlq entry %s: %w", requestID, err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	if err := s.states.Delete(ctx, requestID); err != nil {
		return fmt.Errorf("delete state %s: %w", requestID, err)
	}

	s.logger.Info().Str("request_id", requestID).Msg("dlq entry removed")
	s.publish(ctx, events.TypeRemoved, e.Request, "", e.Error)
	return nil
}

// Health reports queue depths. It is unhealthy once the DLQ holds more than
// the threshold, which points at a systemic failure.
func (s *Store) Health(ctx context.Context) (HealthStatus, error) {
	var h HealthStatus
	var err error
	if h.PendingCount, err = s.backend.Len(ctx, s.keys.Pending); err != nil {
		return HealthStatus{}, fmt.Errorf("pending depth: %w", err)
	}
	if h.RetryCount, err = s.backend.Len(ctx, s.keys.Retry); err != nil {
		return HealthStatus{}, fmt.Errorf("retry depth: %w", err)
	}
	if h.DLQCount, err = s.backend.Len(ctx, s.keys.DLQ); err != nil {
		return HealthStatus{}, fmt.Errorf("dlq depth: %w", err)
	}
	h.IsHealthy = h.DLQCount <= s.threshold
	return h, nil
}

// find returns the first entry for requestID and its exact stored bytes.
func (s *Store) find(ctx context.Context, requestID string) (Entry, []byte, error) {
	items, err := s.backend.Range(ctx, s.keys.DLQ)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("list dlq: %w", err)
	}
	for _, raw := range items {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.RequestID == requestID {
			return e, bytes.Clone(raw), nil
		}
	}
	return Entry{}, nil, ErrEntryNotFound
}

func (s *Store) restoreState(ctx context.Context, e Entry) {
	err := s.states.Save(ctx, state.RequestState{
		RequestID:    e.RequestID,
		Status:       state.StatusDLQ,
		RetryCount:   e.RetryCount,
		ErrorMessage: e.Error,
		UpdatedAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", e.RequestID).Msg("restore dlq state")
	}
}

func (s *Store) publish(ctx context.Context, typ events.Type, req issuance.Request, status, errMsg string) {
	err := s.events.Publish(ctx, events.Event{
		Type:       typ,
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		CouponID:   req.CouponID,
		Status:     status,
		RetryCount: req.RetryCount,
		Error:      errMsg,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", req.RequestID).Str("event", string(typ)).Msg("publish event")
	}
}

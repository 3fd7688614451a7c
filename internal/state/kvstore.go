package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
)

const (
	workingPrefix = "state:"
	resultPrefix  = "result:"
)

// WorkingKey is the backing store key of a request's working record.
func WorkingKey(requestID string) string { return workingPrefix + requestID }

// ResultKey is the backing store key of a request's terminal record.
func ResultKey(requestID string) string { return resultPrefix + requestID }

// KVStore keeps request states in the shared backing store.
type KVStore struct {
	backend kv.Backend
	ttls    TTLs
	nowFunc func() time.Time
}

// NewKVStore returns a Store writing "state:<id>" and "result:<id>" keys.
func NewKVStore(backend kv.Backend, ttls TTLs) *KVStore {
	return &KVStore{backend: backend, ttls: ttls, nowFunc: time.Now}
}

// Get returns the terminal record when present, otherwise the working one.
func (s *KVStore) Get(ctx context.Context, requestID string) (*RequestState, error) {
	for _, key := range []string{ResultKey(requestID), WorkingKey(requestID)} {
		raw, err := s.backend.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get state %s: %w", requestID, err)
		}
		var st RequestState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("decode state %s: %w", requestID, err)
		}
		return &st, nil
	}
	return NotFound(requestID), nil
}

// Save writes st. Terminal states are stored once under the result key and the
// working record is dropped; later writes for the same request are refused.
func (s *KVStore) Save(ctx context.Context, st RequestState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.nowFunc().UTC()
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", st.RequestID, err)
	}
	ttl := s.ttls.forStatus(st.Status)

	if st.Status.Terminal() {
		created, err := s.backend.SetNX(ctx, ResultKey(st.RequestID), raw, ttl)
		if err != nil {
			return fmt.Errorf("save result %s: %w", st.RequestID, err)
		}
		if !created {
			return ErrAlreadyTerminal
		}
		// result key takes precedence on read, so a failed delete is harmless
		_ = s.backend.Delete(ctx, WorkingKey(st.RequestID))
		return nil
	}

	if _, err := s.backend.Get(ctx, ResultKey(st.RequestID)); err == nil {
		return ErrAlreadyTerminal
	} else if !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("check result %s: %w", st.RequestID, err)
	}
	if err := s.backend.Set(ctx, WorkingKey(st.RequestID), raw, ttl); err != nil {
		return fmt.Errorf("save state %s: %w", st.RequestID, err)
	}
	return nil
}

// Delete removes both the working and the terminal record.
func (s *KVStore) Delete(ctx context.Context, requestID string) error {
	if err := s.backend.Delete(ctx, WorkingKey(requestID), ResultKey(requestID)); err != nil {
		return fmt.Errorf("delete state %s: %w", requestID, err)
	}
	return nil
}

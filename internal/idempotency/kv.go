package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
)

const keyPrefix = "idem:"

// KVRegistry stores reservations as TTL keys in the shared kv backend.
type KVRegistry struct {
	backend kv.Backend
	ttl     time.Duration
}

// NewKVRegistry returns a Registry whose reservations live for ttl.
func NewKVRegistry(backend kv.Backend, ttl time.Duration) *KVRegistry {
	return &KVRegistry{backend: backend, ttl: ttl}
}

func (r *KVRegistry) Reserve(ctx context.Context, key, requestID string) (string, bool, error) {
	k := keyPrefix + key
	for {
		ok, err := r.backend.SetNX(ctx, k, []byte(requestID), r.ttl)
		if err != nil {
			return "", false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return requestID, true, nil
		}
		owner, err := r.backend.Get(ctx, k)
		if errors.Is(err, kv.ErrNotFound) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read idempotency key: %w", err)
		}
		return string(owner), false, nil
	}
}

func (r *KVRegistry) Release(ctx context.Context, key, requestID string) error {
	k := keyPrefix + key
	owner, err := r.backend.Get(ctx, k)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read idempotency key: %w", err)
	}
	if string(owner) != requestID {
		return nil
	}
	return r.backend.Delete(ctx, k)
}

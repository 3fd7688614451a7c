package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
)

// Lease registers one worker instance in the shared store and keeps it alive.
// The in-flight lists of an instance stay private while its lease key exists;
// once the key expires any live instance returns them to their queues.
//
// The ttl must comfortably exceed the renewal period (ttl/3): an instance that
// stalls past its ttl loses its in-flight items to a peer.
type Lease struct {
	backend  kv.Backend
	keys     queue.Keys
	owner    string
	ttl      time.Duration
	logger   zerolog.Logger
	acquired bool
}

// NewLease returns a Lease for instance owner.
func NewLease(backend kv.Backend, keys queue.Keys, owner string, ttl time.Duration, log zerolog.Logger) (*Lease, error) {
	if backend == nil {
		return nil, errors.New("worker: lease backend is required")
	}
	if owner == "" {
		return nil, errors.New("worker: lease owner is required")
	}
	if ttl <= 0 {
		return nil, errors.New("worker: lease ttl must be positive")
	}
	return &Lease{
		backend: backend,
		keys:    keys,
		owner:   owner,
		ttl:     ttl,
		logger:  logger.Component(log, "lease").With().Str("instance", owner).Logger(),
	}, nil
}

// Owner is the instance id the lease was created for.
func (l *Lease) Owner() string { return l.owner }

// Acquire writes the lease key and registers the instance.
func (l *Lease) Acquire(ctx context.Context) error {
	return l.Renew(ctx)
}

// Renew extends the lease. The lease key is written before the instance is
// registered, so a registered live instance never looks lapsed. A lease that
// lapsed in between is re-registered.
func (l *Lease) Renew(ctx context.Context) error {
	key := l.keys.WorkerLease(l.owner)
	created, err := l.backend.SetNX(ctx, key, []byte(l.owner), l.ttl)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if !created {
		if err := l.backend.Set(ctx, key, []byte(l.owner), l.ttl); err != nil {
			return fmt.Errorf("renew lease: %w", err)
		}
		return nil
	}
	if l.acquired {
		l.logger.Warn().Msg("lease lapsed; in-flight items may have been reclaimed")
	}
	if err := l.backend.Push(ctx, l.keys.Workers(), []byte(l.owner)); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	l.acquired = true
	return nil
}

// Reclaim returns the in-flight items of every registered instance whose lease
// expired to the head of their source queues, then drops the instance from
// the registry. Concurrent reclaimers are safe: each item moves once.
func (l *Lease) Reclaim(ctx context.Context) (int, error) {
	members, err := l.backend.Range(ctx, l.keys.Workers())
	if err != nil {
		return 0, fmt.Errorf("list instances: %w", err)
	}
	total := 0
	for _, m := range members {
		peer := string(m)
		if peer == l.owner {
			continue
		}
		_, err := l.backend.Get(ctx, l.keys.WorkerLease(peer))
		if err == nil {
			continue
		}
		if !errors.Is(err, kv.ErrNotFound) {
			return total, fmt.Errorf("read lease of %s: %w", peer, err)
		}

		n, err := RecoverInflight(ctx, l.backend, peer, l.keys.Pending, l.keys.Retry)
		total += n
		if err != nil {
			return total, err
		}
		if _, err := l.backend.Remove(ctx, l.keys.Workers(), m); err != nil {
			return total, fmt.Errorf("deregister %s: %w", peer, err)
		}
		l.logger.Warn().Str("peer", peer).Int("items", n).Msg("reclaimed in-flight items of lapsed instance")
	}
	return total, nil
}

// Run renews the lease and reclaims lapsed peers every ttl/3 until ctx is
// done.
func (l *Lease) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := l.Renew(ctx); err != nil {
			l.logger.Error().Err(err).Msg("renew lease")
		}
		if _, err := l.Reclaim(ctx); err != nil {
			l.logger.Error().Err(err).Msg("reclaim lapsed instances")
		}
	}
}

// Release returns this instance's in-flight items to their queues and removes
// the instance. Call it only after its workers stopped.
func (l *Lease) Release(ctx context.Context) error {
	n, err := RecoverInflight(ctx, l.backend, l.owner, l.keys.Pending, l.keys.Retry)
	if err != nil {
		return err
	}
	if n > 0 {
		l.logger.Warn().Int("items", n).Msg("returned in-flight items on shutdown")
	}
	if _, err := l.backend.Remove(ctx, l.keys.Workers(), []byte(l.owner)); err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	if err := l.backend.Delete(ctx, l.keys.WorkerLease(l.owner)); err != nil {
		return fmt.Errorf("drop lease: %w", err)
	}
	l.acquired = false
	return nil
}

// RecoverInflight returns the items owner left in the in-flight lists of
// queues to the head of each queue, preserving their order. owner must not be
// claiming while this runs.
func RecoverInflight(ctx context.Context, backend kv.Backend, owner string, queues ...string) (int, error) {
	total := 0
	for _, q := range queues {
		for {
			_, ok, err := backend.Move(ctx, queue.Inflight(q, owner), q, kv.Tail, kv.Head)
			if err != nil {
				return total, fmt.Errorf("recover %s: %w", q, err)
			}
			if !ok {
				break
			}
			total++
		}
	}
	return total, nil
}

package worker

import (
	"context"
	"errors"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

// Primary drains the pending queue.
type Primary struct {
	*processor
	batchSize int
}

// NewPrimary returns a worker that handles up to batchSize pending items per
// tick.
func NewPrimary(keys queue.Keys, batchSize int, deps Dependencies) (*Primary, error) {
	if batchSize < 1 {
		return nil, errors.New("worker: primary batch size must be >= 1")
	}
	p, err := newProcessor("primary_worker", keys, deps)
	if err != nil {
		return nil, err
	}
	return &Primary{processor: p, batchSize: batchSize}, nil
}

// Tick claims up to batchSize items and handles them one after another, so
// requests claimed in one tick finish in admission order. It stops early when
// the queue is empty and returns an error only when the queue cannot be read.
func (w *Primary) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats
	// items in hand are routed onward even during shutdown
	work := context.WithoutCancel(ctx)
	for i := 0; i < w.batchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		raw, ok, err := w.claim(work, w.keys.Pending)
		if err != nil {
			return stats, err
		}
		if !ok {
			break
		}
		stats.Claimed++
		w.handle(work, raw, &stats)
	}
	return stats, nil
}

func (w *Primary) handle(ctx context.Context, raw []byte, stats *TickStats) {
	req, err := queue.Decode(raw)
	if err != nil {
		// forwarded unchanged; the retry worker dead-letters it
		if err := w.backend.Push(ctx, w.keys.Retry, raw); err != nil {
			w.logger.Error().Err(err).Msg("route malformed envelope; left in flight")
			return
		}
		w.logger.Error().Err(err).Msg("malformed envelope routed to retry queue")
		w.ack(ctx, w.keys.Pending, raw)
		stats.Retried++
		return
	}

	if w.settled(ctx, req) {
		w.ack(ctx, w.keys.Pending, raw)
		stats.Skipped++
		return
	}

	res, issueErr := w.issue(ctx, req)
	var routeErr error
	switch issuance.Classify(issueErr) {
	case issuance.OutcomeSuccess:
		routeErr = w.finish(ctx, req, state.StatusCompleted, res, "")
		stats.Completed++
	case issuance.OutcomeBusiness:
		routeErr = w.finish(ctx, req, state.StatusFailed, nil, issueErr.Error())
		stats.Failed++
	default:
		// retry count stays 0; only the retry worker increments it
		routeErr = w.toRetry(ctx, req, raw, issueErr.Error())
		stats.Retried++
	}
	if routeErr != nil {
		w.logTransition(req, state.StatusPending).Err(routeErr).Msg("route request; left in flight")
		return
	}
	w.ack(ctx, w.keys.Pending, raw)
}

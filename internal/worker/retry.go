package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

// Retry drains the retry queue with a bounded number of attempts per request.
type Retry struct {
	*processor
	batchSize  int
	maxRetries int
}

// NewRetry returns a worker that handles up to batchSize retry items per tick
// and dead-letters a request after maxRetries failed retry attempts.
func NewRetry(keys queue.Keys, batchSize, maxRetries int, deps Dependencies) (*Retry, error) {
	if batchSize < 1 {
		return nil, errors.New("worker: retry batch size must be >= 1")
	}
	if maxRetries < 1 {
		return nil, errors.New("worker: max retries must be >= 1")
	}
	p, err := newProcessor("retry_worker", keys, deps)
	if err != nil {
		return nil, err
	}
	return &Retry{processor: p, batchSize: batchSize, maxRetries: maxRetries}, nil
}

// Tick handles at most min(batchSize, queue length at tick start) items, so a
// request requeued during this tick waits for the next one.
func (w *Retry) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats
	work := context.WithoutCancel(ctx)

	depth, err := w.backend.Len(work, w.keys.Retry)
	if err != nil {
		return stats, fmt.Errorf("retry depth: %w", err)
	}
	limit := int64(w.batchSize)
	if depth < limit {
		limit = depth
	}

	for i := int64(0); i < limit; i++ {
		if ctx.Err() != nil {
			break
		}
		raw, ok, err := w.claim(work, w.keys.Retry)
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

func (w *Retry) handle(ctx context.Context, raw []byte, stats *TickStats) {
	req, err := queue.Decode(raw)
	if err != nil {
		malformed := issuance.Request{RequestID: "malformed-" + w.newID()}
		if err := w.toDLQ(ctx, malformed, raw, err.Error()); err != nil {
			w.logger.Error().Err(err).Msg("dead-letter malformed envelope; left in flight")
			return
		}
		w.ack(ctx, w.keys.Retry, raw)
		stats.DeadLettered++
		return
	}

	if w.settled(ctx, req) {
		w.ack(ctx, w.keys.Retry, raw)
		stats.Skipped++
		return
	}

	req.RetryCount++
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
		if req.RetryCount < w.maxRetries {
			routeErr = w.requeue(ctx, req, issueErr.Error())
			stats.Retried++
		} else {
			msg := fmt.Sprintf("%s: %s", issuance.ErrMaxRetriesExceeded, issueErr)
			routeErr = w.toDLQ(ctx, req, nil, msg)
			stats.DeadLettered++
		}
	}
	if routeErr != nil {
		w.logTransition(req, state.StatusRetry).Err(routeErr).Msg("route request; left in flight")
		return
	}
	w.ack(ctx, w.keys.Retry, raw)
}

func (w *Retry) requeue(ctx context.Context, req issuance.Request, errMsg string) error {
	envelope, err := queue.Encode(req)
	if err != nil {
		return err
	}
	return w.toRetry(ctx, req, envelope, errMsg)
}

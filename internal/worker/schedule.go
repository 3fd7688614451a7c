package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Schedule is a fixed-period plan with an optional start-up delay.
type Schedule struct {
	InitialDelay time.Duration
	Period       time.Duration
}

// Ticker is implemented by Primary and Retry.
type Ticker interface {
	Tick(ctx context.Context) (TickStats, error)
}

// Run ticks t on s until ctx is done. Ticks run on this goroutine, so one
// never starts before the previous returned; ticks missed meanwhile are
// dropped.
func Run(ctx context.Context, name string, s Schedule, t Ticker, log zerolog.Logger) error {
	if s.Period <= 0 {
		return errors.New("worker: schedule period must be positive")
	}
	if s.InitialDelay > 0 {
		delay := time.NewTimer(s.InitialDelay)
		select {
		case <-ctx.Done():
			delay.Stop()
			return nil
		case <-delay.C:
		}
	}

	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()

	log.Info().Str("worker", name).Dur("period", s.Period).Msg("worker started")
	for {
		runTick(ctx, name, t, log)
		select {
		case <-ctx.Done():
			log.Info().Str("worker", name).Msg("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func runTick(ctx context.Context, name string, t Ticker, log zerolog.Logger) {
	stats, err := t.Tick(ctx)
	if err != nil {
		log.Error().Err(err).Str("worker", name).Msg("tick aborted")
	}
	if stats.Claimed == 0 {
		return
	}
	log.Debug().
		Str("worker", name).
		Int("claimed", stats.Claimed).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Int("retried", stats.Retried).
		Int("dead_lettered", stats.DeadLettered).
		Int("skipped", stats.Skipped).
		Msg("tick finished")
}

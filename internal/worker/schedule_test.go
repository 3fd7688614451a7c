package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type slowTicker struct {
	running int32
	overlap int32
	ticks   int32
}

func (s *slowTicker) Tick(ctx context.Context) (TickStats, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		atomic.StoreInt32(&s.overlap, 1)
	}
	defer atomic.StoreInt32(&s.running, 0)
	atomic.AddInt32(&s.ticks, 1)
	time.Sleep(3 * time.Millisecond)
	return TickStats{Claimed: 1}, nil
}

func TestRunNeverOverlapsTicks(t *testing.T) {
	tk := &slowTicker{}
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := Run(ctx, "test", Schedule{Period: time.Millisecond}, tk, zerolog.Nop()); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	wg.Wait()

	if atomic.LoadInt32(&tk.overlap) != 0 {
		t.Fatal("ticks overlapped")
	}
	if atomic.LoadInt32(&tk.ticks) < 2 {
		t.Fatalf("expected several ticks, got %d", tk.ticks)
	}
}

func TestRunWaitsForInitialDelay(t *testing.T) {
	tk := &slowTicker{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := Run(ctx, "test", Schedule{InitialDelay: time.Hour, Period: time.Millisecond}, tk, zerolog.Nop()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tk.ticks != 0 {
		t.Fatalf("expected no ticks before the initial delay, got %d", tk.ticks)
	}
}

func TestRunRejectsNonPositivePeriod(t *testing.T) {
	if err := Run(context.Background(), "test", Schedule{}, &slowTicker{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

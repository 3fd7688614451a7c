package dlq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/imrishuroy/go-coupon-issuance/internal/events"
	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

type capturedEvents struct {
	events []events.Event
}

func (c *capturedEvents) Publish(ctx context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return nil
}

type fixture struct {
	store   *Store
	backend kv.Backend
	states  state.Store
	events  *capturedEvents
	keys    queue.Keys
}

func newFixture(t *testing.T, threshold int) fixture {
	t.Helper()
	backend := kv.NewMemoryBackend()
	states := state.NewKVStore(backend, state.TTLs{State: time.Minute, Result: time.Hour})
	captured := &capturedEvents{}
	keys := queue.DefaultKeys()
	s, err := NewStore(keys, threshold, Dependencies{
		Backend: backend,
		States:  states,
		Events:  captured,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return fixture{store: s, backend: backend, states: states, events: captured, keys: keys}
}

func (f fixture) deadLetter(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	req := issuance.Request{RequestID: id, UserID: "u-" + id, CouponID: "c1", RetryCount: 3}
	if err := f.store.Push(ctx, Entry{Request: req, Error: "max retries exceeded: timeout"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := f.states.Save(ctx, state.RequestState{RequestID: id, Status: state.StatusDLQ, RetryCount: 3, ErrorMessage: "max retries exceeded: timeout"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestListIsNonDestructive(t *testing.T) {
	f := newFixture(t, 10)
	f.deadLetter(t, "r1")
	f.deadLetter(t, "r2")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		entries, err := f.store.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) != 2 || entries[0].RequestID != "r1" || entries[1].RequestID != "r2" {
			t.Fatalf("unexpected entries %+v", entries)
		}
		if entries[0].FailedAt.IsZero() || entries[0].Error == "" {
			t.Fatalf("expected failure details, got %+v", entries[0])
		}
	}
}

func TestRequeueResetsRetryCount(t *testing.T) {
	f := newFixture(t, 10)
	f.deadLetter(t, "r1")
	f.deadLetter(t, "r2")
	ctx := context.Background()

	if err := f.store.Requeue(ctx, "r1"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	entries, _ := f.store.List(ctx)
	if len(entries) != 1 || entries[0].RequestID != "r2" {
		t.Fatalf("expected only r2 left, got %+v", entries)
	}

	items, _ := f.backend.Range(ctx, f.keys.Retry)
	if len(items) != 1 {
		t.Fatalf("expected one retry item, got %d", len(items))
	}
	req, err := queue.Decode(items[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.RequestID != "r1" || req.RetryCount != 0 || req.UserID != "u-r1" {
		t.Fatalf("unexpected requeued request %+v", req)
	}

	st, _ := f.states.Get(ctx, "r1")
	if st.Status != state.StatusRetry || st.RetryCount != 0 {
		t.Fatalf("expected RETRY with count 0, got %+v", st)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != events.TypeRequeued {
		t.Fatalf("expected requeued event, got %+v", f.events.events)
	}
}

func TestRequeueAndRemoveUnknownEntry(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	if err := f.store.Requeue(ctx, "nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("Requeue: expected ErrEntryNotFound, got %v", err)
	}
	if err := f.store.Remove(ctx, "nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("Remove: expected ErrEntryNotFound, got %v", err)
	}
}

func TestRequeueRefusesUndecodableEntry(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	err := f.store.Push(ctx, Entry{
		Request: issuance.Request{RequestID: "malformed-1"},
		Error:   "decode envelope: invalid character",
		Raw:     "{oops",
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := f.store.Requeue(ctx, "malformed-1"); !errors.Is(err, ErrUnrecoverable) {
		t.Fatalf("expected ErrUnrecoverable, got %v", err)
	}
	if err := f.store.Remove(ctx, "malformed-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestRemoveIsPermanent(t *testing.T) {
	f := newFixture(t, 10)
	f.deadLetter(t, "r1")
	ctx := context.Background()

	if err := f.store.Remove(ctx, "r1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries, _ := f.store.List(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected empty dlq, got %+v", entries)
	}
	if st, _ := f.states.Get(ctx, "r1"); st.Status != state.StatusNotFound {
		t.Fatalf("expected state to be gone, got %s", st.Status)
	}
	if err := f.store.Remove(ctx, "r1"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("second Remove: expected ErrEntryNotFound, got %v", err)
	}
}

func TestHealthThreshold(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_ = f.backend.Push(ctx, f.keys.Pending, []byte("p"))
	_ = f.backend.Push(ctx, f.keys.Retry, []byte("r"))

	for i := 0; i < 2; i++ {
		f.deadLetter(t, fmt.Sprintf("r%d", i))
	}
	h, err := f.store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.PendingCount != 1 || h.RetryCount != 1 || h.DLQCount != 2 || !h.IsHealthy {
		t.Fatalf("unexpected health at threshold: %+v", h)
	}

	f.deadLetter(t, "r-over")
	h, _ = f.store.Health(ctx)
	if h.DLQCount != 3 || h.IsHealthy {
		t.Fatalf("expected unhealthy above threshold, got %+v", h)
	}
}

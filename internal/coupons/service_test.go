package coupons

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	s := NewService(repo, time.Second, zerolog.Nop())
	s.nowFunc = func() time.Time { return testNow }
	var n int64
	s.newID = func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&n, 1)) }
	return s
}

var requestSeq int64

// request builds a pipeline request with a fresh request id.
func request(user, couponID string) issuance.Request {
	return issuance.Request{
		RequestID: fmt.Sprintf("req-%d", atomic.AddInt64(&requestSeq, 1)),
		UserID:    user,
		CouponID:  couponID,
	}
}

func mustCreate(t *testing.T, s *Service, qty int64) *Coupon {
	t.Helper()
	c, err := s.Create(context.Background(), CreateInput{
		Name:          "spring-sale",
		DiscountType:  DiscountPercent,
		DiscountValue: 15,
		Quantity:      qty,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestIssueReturnsResult(t *testing.T) {
	s := newTestService(NewMemoryRepository())
	c := mustCreate(t, s, 2)

	res, err := s.Issue(context.Background(), request("user-1", c.ID))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.CouponID != c.ID || res.UserID != "user-1" || res.CouponName != "spring-sale" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.DiscountType != DiscountPercent || res.DiscountValue != 15 || !res.IssuedAt.Equal(testNow) {
		t.Fatalf("unexpected discount terms %+v", res)
	}
	if res.IssueID == "" {
		t.Fatal("expected an issue id")
	}

	got, _ := s.Get(context.Background(), c.ID)
	if got.RemainingQuantity != 1 || got.TotalQuantity != 2 {
		t.Fatalf("unexpected stock %d/%d", got.RemainingQuantity, got.TotalQuantity)
	}
}

func TestIssueBusinessRejections(t *testing.T) {
	repo := NewMemoryRepository()
	s := newTestService(repo)
	ctx := context.Background()
	c := mustCreate(t, s, 1)

	expired := &Coupon{ID: "old", Name: "old", DiscountType: DiscountFixed, DiscountValue: 100,
		TotalQuantity: 5, RemainingQuantity: 5,
		ValidFrom: testNow.Add(-48 * time.Hour), ValidUntil: testNow.Add(-24 * time.Hour)}
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := s.Issue(ctx, request("u1", c.ID)); err != nil {
		t.Fatalf("first issue: %v", err)
	}

	cases := []struct {
		name     string
		user     string
		couponID string
		want     error
	}{
		{"duplicate", "u1", c.ID, issuance.ErrAlreadyIssued},
		{"exhausted", "u2", c.ID, issuance.ErrStockExhausted},
		{"unknown coupon", "u1", "missing", issuance.ErrCouponNotFound},
		{"outside window", "u1", "old", issuance.ErrCouponNotActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Issue(ctx, request(tc.user, tc.couponID))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if issuance.Classify(err) != issuance.OutcomeBusiness {
				t.Fatalf("expected business classification for %v", err)
			}
		})
	}
}

func TestIssueRepeatForSameRequestReturnsOriginalResult(t *testing.T) {
	s := newTestService(NewMemoryRepository())
	ctx := context.Background()
	c := mustCreate(t, s, 1)
	req := request("user-1", c.ID)

	first, err := s.Issue(ctx, req)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	// stock is gone and the clock moved; the repeat still succeeds unchanged
	s.nowFunc = func() time.Time { return testNow.Add(time.Hour) }
	again, err := s.Issue(ctx, req)
	if err != nil {
		t.Fatalf("repeat issue: %v", err)
	}
	if again.IssueID != first.IssueID || !again.IssuedAt.Equal(first.IssuedAt) {
		t.Fatalf("expected original result %+v, got %+v", first, again)
	}

	got, _ := s.Get(ctx, c.ID)
	if got.RemainingQuantity != 0 {
		t.Fatalf("repeat must not take stock, remaining=%d", got.RemainingQuantity)
	}
	if _, err := s.Issue(ctx, request("user-1", c.ID)); !errors.Is(err, issuance.ErrAlreadyIssued) {
		t.Fatalf("another request by the same user: expected ErrAlreadyIssued, got %v", err)
	}
}

type slowRepo struct {
	Repository
}

func (slowRepo) Claim(ctx context.Context, claim Claim) (*Issued, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestIssueTimeoutIsSystemFailure(t *testing.T) {
	s := newTestService(slowRepo{Repository: NewMemoryRepository()})
	s.timeout = 10 * time.Millisecond

	_, err := s.Issue(context.Background(), request("u", "c"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if issuance.Classify(err) != issuance.OutcomeSystem {
		t.Fatal("expected timeout to be a system failure")
	}
}

func TestConcurrentIssueNeverOverIssues(t *testing.T) {
	s := newTestService(NewMemoryRepository())
	c := mustCreate(t, s, 10)

	var wg sync.WaitGroup
	var issued, exhausted int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Issue(context.Background(), request(fmt.Sprintf("user-%d", i), c.ID))
			switch {
			case err == nil:
				atomic.AddInt64(&issued, 1)
			case errors.Is(err, issuance.ErrStockExhausted):
				atomic.AddInt64(&exhausted, 1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	if issued != 10 || exhausted != 40 {
		t.Fatalf("expected 10 issued / 40 exhausted, got %d / %d", issued, exhausted)
	}
	got, _ := s.Get(context.Background(), c.ID)
	if got.RemainingQuantity != 0 {
		t.Fatalf("expected no stock left, got %d", got.RemainingQuantity)
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestService(NewMemoryRepository())
	cases := []struct {
		name string
		in   CreateInput
	}{
		{"zero quantity", CreateInput{Name: "a", DiscountType: DiscountFixed, DiscountValue: 1}},
		{"bad type", CreateInput{Name: "a", DiscountType: "BOGO", DiscountValue: 1, Quantity: 1}},
		{"percent over 100", CreateInput{Name: "a", DiscountType: DiscountPercent, DiscountValue: 150, Quantity: 1}},
		{"inverted window", CreateInput{Name: "a", DiscountType: DiscountFixed, DiscountValue: 1, Quantity: 1,
			ValidFrom: testNow, ValidUntil: testNow.Add(-time.Hour)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Create(context.Background(), tc.in); !errors.Is(err, ErrInvalidCoupon) {
				t.Fatalf("expected ErrInvalidCoupon, got %v", err)
			}
		})
	}
}

func TestCouponActive(t *testing.T) {
	c := &Coupon{ValidFrom: testNow}
	if c.Active(testNow.Add(-time.Second)) {
		t.Fatal("expected inactive before valid_from")
	}
	if !c.Active(testNow.Add(365 * 24 * time.Hour)) {
		t.Fatal("expected open-ended coupon to stay active")
	}
	c.ValidUntil = testNow.Add(time.Hour)
	if c.Active(testNow.Add(time.Hour)) {
		t.Fatal("expected inactive at valid_until")
	}
}

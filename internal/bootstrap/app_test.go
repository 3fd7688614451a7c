package bootstrap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-coupon-issuance/internal/aws"
	"github.com/imrishuroy/go-coupon-issuance/internal/config"
	"github.com/imrishuroy/go-coupon-issuance/internal/coupons"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App:   config.AppConfig{Env: "test", Port: 8080, LogLevel: "debug"},
		Store: config.StoreConfig{Backend: config.StoreMemory},
		Queues: config.QueueConfig{
			PendingKey: "coupon:queue:pending",
			RetryKey:   "coupon:queue:retry",
			DLQKey:     "coupon:queue:dlq",
		},
		Pipeline: config.PipelineConfig{
			PrimaryPeriod:      10 * time.Millisecond,
			PrimaryBatchSize:   10,
			RetryPeriod:        10 * time.Millisecond,
			RetryBatchSize:     5,
			MaxRetries:         3,
			StateTTL:           time.Hour,
			ResultTTL:          24 * time.Hour,
			DLQHealthThreshold: 100,
			IssueTimeout:       time.Second,
			LeaseTTL:           30 * time.Second,
		},
		State:   config.StateConfig{Backend: config.StateKV},
		Coupons: config.CouponsConfig{Backend: config.CouponsMemory},
	}
}

func TestBuildMemoryApp(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	if app.Metrics != nil {
		t.Fatal("metrics reporter should be disabled")
	}
	if _, ok := app.States.(*state.KVStore); !ok {
		t.Fatalf("expected kv state store, got %T", app.States)
	}
	hc := app.HandlerConfig()
	if hc.Intake == nil || hc.States == nil || hc.DLQ == nil || hc.Coupons == nil {
		t.Fatalf("handler config is missing dependencies: %+v", hc)
	}
}

func TestRunWorkersIssuesCoupon(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := app.Coupons.Create(ctx, coupons.CreateInput{
		Name:          "launch",
		DiscountType:  coupons.DiscountPercent,
		DiscountValue: 10,
		Quantity:      1,
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	id, err := app.Intake.Enqueue(ctx, "user-1", c.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- app.RunWorkers(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := app.States.Get(ctx, id)
		if err != nil {
			t.Fatalf("get state: %v", err)
		}
		if st.Status == state.StatusCompleted {
			if st.Result == nil || st.Result.CouponID != c.ID {
				t.Fatalf("unexpected result: %+v", st.Result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("request still %s after deadline", st.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("workers returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestCloseIsSafeToRepeat(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

type recordingCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *recordingCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (m *recordingCloudWatch) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func TestReportHealthPublishesGauges(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	cw := &recordingCloudWatch{}
	app.Metrics = aws.NewMetricsReporter(cw, "CouponIssuance")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.reportHealth(ctx, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for cw.calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least two reports, got %d", cw.calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("reportHealth returned %v", err)
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if got := *cw.inputs[0].Namespace; got != "CouponIssuance" {
		t.Fatalf("unexpected namespace %q", got)
	}
	if n := len(cw.inputs[0].MetricData); n != 4 {
		t.Fatalf("expected 4 gauges, got %d", n)
	}
}

// Package bootstrap wires the runtime graph from configuration. Both binaries
// build an App and decide which parts of it to run.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-coupon-issuance/internal/aws"
	"github.com/imrishuroy/go-coupon-issuance/internal/config"
	"github.com/imrishuroy/go-coupon-issuance/internal/coupons"
	"github.com/imrishuroy/go-coupon-issuance/internal/database"
	"github.com/imrishuroy/go-coupon-issuance/internal/dlq"
	"github.com/imrishuroy/go-coupon-issuance/internal/events"
	"github.com/imrishuroy/go-coupon-issuance/internal/handlers"
	"github.com/imrishuroy/go-coupon-issuance/internal/idempotency"
	"github.com/imrishuroy/go-coupon-issuance/internal/kv"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
	"github.com/imrishuroy/go-coupon-issuance/internal/worker"
)

// App holds every long lived component.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Keys    queue.Keys
	Backend kv.Backend
	States  state.Store
	Intake  *queue.Intake
	DLQ     *dlq.Store
	Coupons *coupons.Service
	Events  events.Publisher
	Primary *worker.Primary
	Retry   *worker.Retry
	Lease   *worker.Lease
	Metrics *aws.MetricsReporter

	// InstanceID names this process's in-flight lists and worker lease.
	InstanceID string

	closers []func(context.Context) error
}

// Build connects to every configured backend and assembles the App. On error
// whatever was already opened is closed again.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (app *App, err error) {
	app = &App{
		Config:     cfg,
		Logger:     log,
		InstanceID: uuid.NewString(),
		Keys: queue.Keys{
			Pending: cfg.Queues.PendingKey,
			Retry:   cfg.Queues.RetryKey,
			DLQ:     cfg.Queues.DLQKey,
		},
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if err := app.openBackend(ctx); err != nil {
		return app, err
	}

	var clients *aws.AWSClients
	if needsAWS(cfg) {
		if clients, err = aws.NewAWSClients(ctx); err != nil {
			return app, fmt.Errorf("aws clients: %w", err)
		}
	}

	ttls := state.TTLs{State: cfg.Pipeline.StateTTL, Result: cfg.Pipeline.ResultTTL}
	if cfg.State.Backend == config.StateDynamoDB {
		app.States = state.NewDynamoStore(clients.DynamoDB, cfg.State.Table, ttls)
	} else {
		app.States = state.NewKVStore(app.Backend, ttls)
	}

	if err := app.openEvents(clients); err != nil {
		return app, err
	}
	if cfg.Metrics.Enabled {
		app.Metrics = aws.NewMetricsReporter(clients.CloudWatch, cfg.Metrics.Namespace)
	}

	repo, err := app.openCoupons(ctx, clients)
	if err != nil {
		return app, err
	}
	app.Coupons = coupons.NewService(repo, cfg.Pipeline.IssueTimeout, log)

	var registry idempotency.Registry
	if cfg.State.Backend == config.StateDynamoDB && cfg.State.IdempotencyTable != "" {
		registry = idempotency.NewDynamoRegistry(clients.DynamoDB, cfg.State.IdempotencyTable, cfg.Pipeline.ResultTTL)
	}
	app.Intake, err = queue.NewIntake(app.Keys, cfg.Pipeline.ResultTTL, queue.IntakeDependencies{
		Backend: app.Backend,
		States:  app.States,
		Keys:    registry,
		Logger:  log,
	})
	if err != nil {
		return app, err
	}

	app.DLQ, err = dlq.NewStore(app.Keys, cfg.Pipeline.DLQHealthThreshold, dlq.Dependencies{
		Backend: app.Backend,
		States:  app.States,
		Events:  app.Events,
		Logger:  log,
	})
	if err != nil {
		return app, err
	}

	deps := worker.Dependencies{
		Backend:     app.Backend,
		States:      app.States,
		DeadLetters: app.DLQ,
		Issuer:      app.Coupons,
		Events:      app.Events,
		Logger:      log,
		InstanceID:  app.InstanceID,
	}
	if app.Primary, err = worker.NewPrimary(app.Keys, cfg.Pipeline.PrimaryBatchSize, deps); err != nil {
		return app, err
	}
	if app.Retry, err = worker.NewRetry(app.Keys, cfg.Pipeline.RetryBatchSize, cfg.Pipeline.MaxRetries, deps); err != nil {
		return app, err
	}
	if app.Lease, err = worker.NewLease(app.Backend, app.Keys, app.InstanceID, cfg.Pipeline.LeaseTTL, log); err != nil {
		return app, err
	}
	return app, nil
}

func (a *App) openBackend(ctx context.Context) error {
	switch a.Config.Store.Backend {
	case config.StoreRedis:
		b, err := kv.NewRedisBackend(ctx, kv.RedisOptions{
			Addr:     a.Config.Store.RedisAddr,
			Password: a.Config.Store.RedisPassword,
			DB:       a.Config.Store.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis backend: %w", err)
		}
		a.Backend = b
	default:
		a.Backend = kv.NewMemoryBackend()
	}
	a.onClose(func(context.Context) error { return a.Backend.Close() })
	return nil
}

func (a *App) openEvents(clients *aws.AWSClients) error {
	var pubs []events.Publisher
	if url := a.Config.Events.SQSQueueURL; url != "" {
		pubs = append(pubs, events.NewSQSPublisher(aws.NewPublisher(clients.SQS, url)))
	}
	if len(a.Config.Events.KafkaBrokers) > 0 {
		w, err := events.NewKafkaWriter(a.Config.Events.KafkaBrokers, a.Config.Events.KafkaTopic)
		if err != nil {
			return err
		}
		kp := events.NewKafkaPublisher(w)
		a.onClose(func(context.Context) error { return kp.Close() })
		pubs = append(pubs, kp)
	}
	a.Events = events.Combine(pubs...)
	return nil
}

func (a *App) openCoupons(ctx context.Context, clients *aws.AWSClients) (coupons.Repository, error) {
	switch a.Config.Coupons.Backend {
	case config.CouponsDynamoDB:
		return coupons.NewDynamoRepository(clients.DynamoDB, a.Config.Coupons.Table, a.Config.Coupons.ClaimsTable), nil
	case config.CouponsMongo:
		db, err := database.ConnectMongo(ctx, a.Config.Coupons.MongoURI, a.Config.Coupons.MongoDB)
		if err != nil {
			return nil, err
		}
		a.onClose(db.Disconnect)
		return coupons.NewMongoRepository(db.Database), nil
	case config.CouponsPostgres:
		pool, err := database.OpenPostgres(ctx, a.Config.Coupons.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		return coupons.NewPostgresRepository(pool), nil
	default:
		return coupons.NewMemoryRepository(), nil
	}
}

func needsAWS(cfg *config.Config) bool {
	return cfg.State.Backend == config.StateDynamoDB ||
		cfg.Coupons.Backend == config.CouponsDynamoDB ||
		cfg.Events.SQSQueueURL != "" ||
		cfg.Metrics.Enabled
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// HandlerConfig exposes the App to the HTTP handlers.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Intake:  a.Intake,
		States:  a.States,
		DLQ:     a.DLQ,
		Coupons: a.Coupons,
		Logger:  a.Logger,
	}
}

// RunWorkers registers this instance, reclaims the in-flight items of lapsed
// instances and then runs both workers, the lease keeper and, when metrics
// are enabled, the health reporter until ctx is done. On return anything this
// instance still holds goes back to its queue.
func (a *App) RunWorkers(ctx context.Context) error {
	if err := a.Lease.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.Lease.Release(context.WithoutCancel(ctx)); err != nil {
			a.Logger.Error().Err(err).Msg("release worker lease")
		}
	}()
	n, err := a.Lease.Reclaim(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.Logger.Warn().Int("items", n).Msg("recovered in-flight items of stopped instances")
	}

	p := a.Config.Pipeline
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx, "primary", worker.Schedule{Period: p.PrimaryPeriod}, a.Primary, a.Logger)
	})
	g.Go(func() error {
		return a.Lease.Run(gctx)
	})
	g.Go(func() error {
		return worker.Run(gctx, "retry", worker.Schedule{InitialDelay: p.RetryInitialDelay, Period: p.RetryPeriod}, a.Retry, a.Logger)
	})
	if a.Metrics != nil {
		g.Go(func() error {
			return a.reportHealth(gctx, a.Config.Metrics.Interval)
		})
	}
	return g.Wait()
}

// reportHealth publishes queue gauges every interval until ctx is done.
func (a *App) reportHealth(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		h, err := a.DLQ.Health(ctx)
		if err != nil {
			a.Logger.Error().Err(err).Msg("read pipeline health")
			continue
		}
		if !h.IsHealthy {
			a.Logger.Error().Int64("dlq_count", h.DLQCount).Msg("dead letter queue above threshold")
		}
		err = a.Metrics.Report(ctx, aws.QueueGauges{
			Pending: h.PendingCount,
			Retry:   h.RetryCount,
			DLQ:     h.DLQCount,
			Healthy: h.IsHealthy,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("report health metrics")
		}
	}
}

// Close releases every opened resource in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

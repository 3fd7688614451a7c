package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imrishuroy/go-coupon-issuance/internal/bootstrap"
	"github.com/imrishuroy/go-coupon-issuance/internal/config"
	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.Store.Backend == config.StoreMemory {
		// a separate process cannot see the API's in-memory queues
		log.Fatal().Msg("worker requires STORE_BACKEND=redis; the API runs embedded workers for the memory store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger.Component(*log, "worker"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close application")
		}
	}()

	log.Info().
		Dur("primary_period", cfg.Pipeline.PrimaryPeriod).
		Dur("retry_period", cfg.Pipeline.RetryPeriod).
		Int("max_retries", cfg.Pipeline.MaxRetries).
		Dur("max_time_in_pipeline", cfg.Pipeline.MaxTimeInPipeline()).
		Str("instance", app.InstanceID).
		Dur("lease_ttl", cfg.Pipeline.LeaseTTL).
		Msg("starting workers")

	if err := app.RunWorkers(ctx); err != nil {
		log.Error().Err(err).Msg("workers stopped with error")
		return
	}
	log.Info().Msg("workers stopped")
}

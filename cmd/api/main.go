package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-coupon-issuance/internal/bootstrap"
	"github.com/imrishuroy/go-coupon-issuance/internal/config"
	"github.com/imrishuroy/go-coupon-issuance/internal/handlers"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger.Component(*log, "api"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close application")
		}
	}()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.NewRouter(app.HandlerConfig())

	// if RUN_LOCAL is true, serve HTTP directly instead of through the lambda adapter
	if cfg.App.RunLocal {
		if err := serveLocal(ctx, app, r); err != nil {
			log.Error().Err(err).Msg("local server stopped with error")
		}
		return
	}

	if cfg.Store.Backend == config.StoreMemory {
		log.Warn().Msg("memory store under lambda is per-instance and no worker drains it")
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// serveLocal runs the HTTP server until ctx is done. With the in-memory store
// the workers share this process, so they are started alongside it.
func serveLocal(ctx context.Context, app *bootstrap.App, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.Config.App.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info().Str("addr", srv.Addr).Msg("running local server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if app.Config.Store.Backend == config.StoreMemory {
		g.Go(func() error {
			return app.RunWorkers(gctx)
		})
	}
	return g.Wait()
}

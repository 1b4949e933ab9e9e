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

	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/movie-sync/internal/config"
	"github.com/DoyleJ11/movie-sync/internal/coordinator"
	"github.com/DoyleJ11/movie-sync/internal/httpapi"
	"github.com/DoyleJ11/movie-sync/internal/hub"
	"github.com/DoyleJ11/movie-sync/internal/logging"
	"github.com/DoyleJ11/movie-sync/internal/metrics"
	"github.com/DoyleJ11/movie-sync/internal/ratelimit"
	"github.com/DoyleJ11/movie-sync/internal/reaper"
	"github.com/DoyleJ11/movie-sync/internal/room"
	"github.com/DoyleJ11/movie-sync/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMeter, err := metrics.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	rec, err := metrics.NewRecorder(otel.Meter(cfg.ServiceName))
	if err != nil {
		return fmt.Errorf("init recorder: %w", err)
	}

	// The hub outlives ctx so rooms are torn down after the HTTP server drains.
	h := hub.NewHub(context.Background(), hub.Options{
		Room: room.Options{
			SyncTimeout: cfg.SyncTimeout,
			Logger:      logger,
			Metrics:     rec,
		},
		Logger:  logger,
		Metrics: rec,
	})
	coord := coordinator.New(h, coordinator.Options{
		Limiter: ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMax),
		Logger:  logger,
		Metrics: rec,
	})
	sweeper := reaper.New(h, cfg.ReapInterval, cfg.RoomTTL(), logger)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(coord, ws.Options{
			OriginPatterns: httpapi.OriginPatterns(cfg.AllowedOrigins()),
			PingInterval:   cfg.PingInterval,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.Strings("origins", cfg.AllowedOrigins()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		sweeper.Stop()
		err := srv.Shutdown(sctx)
		err = multierr.Append(err, h.Shutdown(sctx))
		err = multierr.Append(err, shutdownMeter(sctx))
		return err
	})

	return g.Wait()
}

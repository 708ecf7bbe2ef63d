package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/classifier"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/velocity"
	"github.com/opensource-finance/harrier/internal/worker"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().Bool("worker", false, "process async submissions in this process")
	_ = loader.BindFlag("server.port", cmd.Flags().Lookup("port"))
	_ = loader.BindFlag("worker.enabled", cmd.Flags().Lookup("worker"))
	return cmd
}

func runServe(ctx context.Context) error {
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
	)

	stopTracing := config.SetupTracing(cfg.Tracing, slog.Default())
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracing(flushCtx); err != nil {
			slog.Warn("failed to flush spans", "error", err)
		}
	}()

	store, err := repository.New(ctx, cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer store.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	gateway, err := classifier.New(cfg.Classifier, busImpl)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}
	slog.Info("classifier initialized",
		"type", cfg.Classifier.Type,
		"timeout", cfg.Classifier.Timeout,
	)

	opts := []scoring.Option{scoring.WithEventBus(busImpl)}
	if limiter := velocity.NewLimiter(cacheImpl, cfg.Quota); limiter != nil {
		opts = append(opts, scoring.WithLimiter(limiter))
		slog.Info("submission quota enabled",
			"max_submissions", limiter.Limit(),
			"window", limiter.Window(),
		)
	}
	svc := scoring.NewService(store, gateway, opts...)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{AccountIDs: cfg.Worker.AccountIDs}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	var validator api.TokenValidator
	if cfg.Auth.JWTSecret != "" {
		v, err := api.NewHS256Validator(cfg.Auth.JWTSecret)
		if err != nil {
			return err
		}
		validator = v
		slog.Info("bearer token authentication enabled")
	}

	// Async submissions need a consumer: this process's worker, or external workers behind NATS.
	var queue domain.EventBus
	if cfg.Worker.Enabled || cfg.EventBus.Type == "nats" {
		queue = busImpl
	} else {
		slog.Info("async submissions disabled, no worker consumes the queue")
	}

	srv := api.NewServer(cfg.Server, svc, api.Options{
		Bus:       busImpl,
		Queue:     queue,
		Cache:     cacheImpl,
		Validator: validator,
		Version:   Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"service", cfg.Tracing.ServiceName,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
	return nil
}

// openPipeline wires the store and classifier for the one-shot commands.
func openPipeline(ctx context.Context) (*scoring.Service, func(), error) {
	store, err := repository.New(ctx, cfg.Repository)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	var busImpl domain.EventBus
	if cfg.Classifier.Type == "nats" {
		busImpl, err = bus.New(cfg.EventBus)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to initialize event bus: %w", err)
		}
	}

	gateway, err := classifier.New(cfg.Classifier, busImpl)
	if err != nil {
		store.Close()
		if busImpl != nil {
			busImpl.Close()
		}
		return nil, nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	cleanup := func() {
		store.Close()
		if busImpl != nil {
			busImpl.Close()
		}
	}
	return scoring.NewService(store, gateway), cleanup, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/experiments/internal/config"
	"github.com/xiaot623/gogo/experiments/internal/executor"
	"github.com/xiaot623/gogo/experiments/internal/feed"
	"github.com/xiaot623/gogo/experiments/internal/ledger"
	"github.com/xiaot623/gogo/experiments/internal/registry"
	store "github.com/xiaot623/gogo/experiments/internal/repository"
	"github.com/xiaot623/gogo/experiments/internal/service"
	handler "github.com/xiaot623/gogo/experiments/internal/transport/http"
	"github.com/xiaot623/gogo/experiments/policy"
)

func main() {
	if err := run(); err != nil {
		slog.Error("experiments engine failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	logger.Info("starting experiments engine",
		slog.Int("http_port", cfg.HTTPPort),
		slog.Int("internal_port", cfg.InternalPort),
		slog.String("database", cfg.DatabaseURL),
		slog.String("significance_mode", string(cfg.SignificanceMode)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize policy engine
	policyContent := policy.DefaultPolicy
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("read policy file: %w", err)
		}
		policyContent = string(data)
	}
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	// Initialize executors
	webhook := executor.NewWebhookClient(cfg.ExecutionTimeout, cfg.WebhookAllowedHosts)
	if err := executor.RegisterBuiltins(executor.DefaultRegistry, webhook); err != nil {
		return fmt.Errorf("register executors: %w", err)
	}
	logger.Info("executors registered",
		slog.Any("executors", executor.DefaultRegistry.Names()),
		slog.Any("webhook_hosts", cfg.WebhookAllowedHosts))

	// Initialize live feed
	hub := feed.NewHub(logger)
	go hub.Run(ctx)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithPublisher(hub),
		service.WithExecutors(executor.DefaultRegistry),
		service.WithEndpointCheck(webhook.CheckEndpoint),
	}

	// Initialize archive store
	if cfg.DatabaseURL != "" {
		db, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("initialize store: %w", err)
		}
		defer db.Close()
		opts = append(opts, service.WithStore(db))
	}

	// Initialize service
	reg := registry.New(registry.WithPolicy(policyEngine), registry.WithLogger(logger))
	svc := service.New(cfg, reg, ledger.New(), opts...)

	if err := svc.Restore(ctx); err != nil {
		return fmt.Errorf("restore experiments: %w", err)
	}

	if cfg.ExperimentsFile != "" {
		cfgs, err := config.LoadExperiments(cfg.ExperimentsFile)
		if err != nil {
			return err
		}
		created, err := svc.SeedExperiments(ctx, cfgs)
		if err != nil {
			return err
		}
		logger.Info("experiments seeded",
			slog.String("file", cfg.ExperimentsFile),
			slog.Int("created", created))
	}

	go svc.RunLifecycleMonitor(ctx)

	feedServer := feed.NewServer(hub, feed.Options{
		PingInterval: cfg.FeedPingInterval,
		WriteTimeout: cfg.FeedWriteTimeout,
		ReadTimeout:  cfg.FeedReadTimeout,
	}, logger)
	externalServer := handler.NewExternalServer(svc, feedServer)
	internalServer := handler.NewInternalServer(svc)

	errc := make(chan error, 2)

	// Start external server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := externalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("external server: %w", err)
		}
	}()

	// Start internal server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("internal server: %w", err)
		}
	}()

	logger.Info("experiments engine started")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		stop()
	}

	logger.Info("shutting down experiments engine")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown external server gracefully", slog.String("error", err.Error()))
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown internal server gracefully", slog.String("error", err.Error()))
	}

	logger.Info("experiments engine stopped")
	return serveErr
}

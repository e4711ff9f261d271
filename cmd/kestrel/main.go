// Kestrel - Loyalty reward rules that deploy in 60 seconds.
// Copyright (c) 2025 opensource-loyalty
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-loyalty/kestrel/internal/api"
	"github.com/opensource-loyalty/kestrel/internal/authoring"
	"github.com/opensource-loyalty/kestrel/internal/bus"
	"github.com/opensource-loyalty/kestrel/internal/cache"
	"github.com/opensource-loyalty/kestrel/internal/domain"
	"github.com/opensource-loyalty/kestrel/internal/quota"
	"github.com/opensource-loyalty/kestrel/internal/repository"
	"github.com/opensource-loyalty/kestrel/internal/rules"
	"github.com/opensource-loyalty/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(cfg.Authoring.MaxWorkers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	slog.Info("rule engine initialized", "max_workers", cfg.Authoring.MaxWorkers)

	// Initialize Validator and Quota Service
	validator := rules.NewValidator(repo, domain.DefaultCatalog(), engine)
	quotaSvc := quota.NewService(repo, cacheImpl, cfg.Authoring.RateLimitPerMinute)

	// Initialize Authoring Service
	svc := authoring.NewService(repo, cacheImpl, busImpl, validator, engine, quotaSvc, cfg.Authoring, logger)
	slog.Info("authoring service initialized")

	// Eligibility expressions compile on first use; the worker keeps
	// the compiled set warm as rules change.
	tenantIDs := parseTenantList(os.Getenv("KESTREL_TENANTS"))

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, engine)

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, quotaSvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// parseTenantList parses a comma-separated list of tenant IDs.
func parseTenantList(raw string) []int64 {
	if raw == "" {
		return nil
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			slog.Warn("ignoring invalid tenant id", "value", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - Loyalty Reward Rule Engine")
	fmt.Println("  Every event earns its keep.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /tenants                       - Register a tenant")
	fmt.Println("    POST   /programs                      - Create a loyalty program")
	fmt.Println("    POST   /programs/{id}/rules           - Create a reward rule")
	fmt.Println("    GET    /programs/{id}/rules           - List program rules")
	fmt.Println("    POST   /programs/{id}/dryrun          - Dry-run an event")
	fmt.Println("    GET    /rules/{id}                    - Get latest rule version")
	fmt.Println("    PUT    /rules/{id}                    - Patch as a new version")
	fmt.Println("    DELETE /rules/{id}                    - Delete a retired rule")
	fmt.Println("    GET    /rules/{id}/versions           - Version history")
	fmt.Println("    POST   /rules/{id}/activate           - Activate in place")
	fmt.Println("    POST   /rules/{id}/deactivate         - Deactivate in place")
	fmt.Println("    GET    /health                        - Health check")
	fmt.Println()
}

// Weaver - Behavioral budget calendars that deploy in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/weaver/internal/api"
	"github.com/opensource-finance/weaver/internal/bus"
	"github.com/opensource-finance/weaver/internal/cache"
	"github.com/opensource-finance/weaver/internal/domain"
	"github.com/opensource-finance/weaver/internal/planner"
	"github.com/opensource-finance/weaver/internal/repository"
	"github.com/opensource-finance/weaver/internal/worker"
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
	if os.Getenv("WEAVER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting weaver",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("WEAVER_TIER") == "pro" {
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

	// Initialize Plan Registry
	registry, err := planner.NewRegistry()
	if err != nil {
		slog.Error("failed to initialize plan registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	// Load plan configs from database (no hardcoded defaults - configure via API)
	if err := loadConfigsFromDatabase(ctx, repo, registry); err != nil {
		slog.Error("failed to load plan configs", "error", err)
		os.Exit(1)
	}
	slog.Info("plan registry initialized", "configs_count", registry.Count())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("WEAVER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, registry)

		// Get tenant IDs to process (from environment or default)
		tenantIDs := []string{}
		if envTenants := os.Getenv("WEAVER_TENANTS"); envTenants != "" {
			// Could parse comma-separated list here
			tenantIDs = []string{envTenants}
		}

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
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, registry, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("weaver is ready",
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

	slog.Info("weaver shutdown complete")
}

// GlobalTenantID is used for plan configs that apply to all tenants.
const GlobalTenantID = "*"

// loadConfigsFromDatabase loads plan configs from the database into the
// registry. All configs must be created via POST /configs - no hardcoded
// defaults.
func loadConfigsFromDatabase(ctx context.Context, repo domain.Repository, registry *planner.Registry) error {
	dbConfigs, err := repo.ListPlanConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list plan configs from database", "error", err)
		return nil // Start with empty registry - configs can be added via API
	}

	if len(dbConfigs) > 0 {
		slog.Info("loading plan configs from database", "count", len(dbConfigs))
		return registry.LoadConfigs(dbConfigs)
	}

	slog.Info("no plan configs in database - configure via POST /configs API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🧶 WEAVER                   ║")
	fmt.Println("  ║    Behavioral Budget Calendar Engine      ║")
	fmt.Println("  ║     Every month, woven to fit you.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /plans                    - Generate a monthly calendar")
	fmt.Println("    GET  /calendars/{year}/{month} - Get a stored calendar")
	fmt.Println("    POST /actuals                  - Record a realized daily total")
	fmt.Println("    POST /anomalies/scan           - Scan a month for anomalies")
	fmt.Println("    GET  /anomalies/{year}/{month} - Get a stored anomaly report")
	fmt.Println("    POST /cohort                   - Classify a behavior profile")
	fmt.Println("    GET  /configs                  - List plan configs")
	fmt.Println("    POST /configs                  - Create a plan config")
	fmt.Println("    DELETE /configs/{id}           - Delete a plan config")
	fmt.Println("    POST /configs/reload           - Hot-reload configs from database")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}

// Dispenser Core - medication dispenser provisioning service
//
// This is the main entry point for the provisioning API. It serves the
// setup wizard and device configuration endpoints used by the companion
// app, writing every configuration change to the durable SQLite record and
// to the real-time store the dispenser firmware reads (MQTT retained topics
// or Redis).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/dispenser-core/internal/api"
	"github.com/nerrad567/dispenser-core/internal/app"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/config"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupHealthTimeout bounds the health check run before serving.
const startupHealthTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Dispenser Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	components, err := app.Open(ctx, cfg, log, app.Options{Sessions: session.ContextProvider{}})
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections")
		if closeErr := components.Close(); closeErr != nil {
			log.Error("error closing connections", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, components.Health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	health := make(map[string]api.HealthChecker, len(components.Health))
	for name, checker := range components.Health {
		health[name] = checker
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Provisioning: cfg.Provisioning,
		Logger:       log,
		Configs:      components.Configs,
		Claims:       components.Claims,
		ClaimCache:   components.ClaimCache,
		Progress:     components.KV,
		Metrics:      components.Metrics,
		Gatherer:     components.Registry,
		Health:       health,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		components.RunJanitor(ctx, cfg.Provisioning.ValidationCacheTTL())
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	<-janitorDone

	// Deferred closes run in reverse: API server, then the stores.
	log.Info("Dispenser Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DISPENSER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DISPENSER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every connected dependency answers before the API
// starts accepting requests.
func healthCheck(ctx context.Context, checkers map[string]app.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	for name, checker := range checkers {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

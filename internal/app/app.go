// Package app assembles the provisioning components from configuration.
//
// Both the API server and the provision CLI build the same graph: SQLite
// for the durable records and local key-value slots, an MQTT or Redis
// real-time store, the optional InfluxDB sync journal and the Prometheus
// recorder. Open connects everything in dependency order and Close releases
// it in reverse.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/nerrad567/dispenser-core/migrations"

	"github.com/nerrad567/dispenser-core/internal/cache"
	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/config"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/database"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/metrics"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/redis"
	"github.com/nerrad567/dispenser-core/internal/session"
)

// HealthChecker is a connected dependency that can report its health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options adjust how Open builds the graph.
type Options struct {
	// Sessions answers "who is the current user" for config writes.
	// Defaults to reading the user from the request context.
	Sessions session.Provider

	// DryRun keeps everything in memory: an in-memory database and
	// real-time store, and no journal. Nothing reaches a device.
	DryRun bool

	// Registry receives the metrics. nil gets a fresh registry.
	Registry *prometheus.Registry
}

// App is the assembled component graph.
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	DB         *database.DB
	KV         kvstore.Store
	Claims     claim.Registry
	ClaimCache *cache.ValidationCache[claim.Availability]
	Realtime   devicecfg.RealtimeStore
	Configs    *devicecfg.Service
	Metrics    *metrics.Recorder
	Registry   *prometheus.Registry
	Journal    *influxdb.Client

	// Health lists every connected dependency by name.
	Health map[string]HealthChecker

	closers []func() error
}

// Open connects and wires every component described by cfg. On error
// anything already opened is closed again.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger, opts Options) (*App, error) {
	if opts.Sessions == nil {
		opts.Sessions = session.ContextProvider{}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: opts.Registry,
		Metrics:  metrics.NewRecorder(opts.Registry),
		Health:   make(map[string]HealthChecker),
	}
	opened := false
	defer func() {
		if !opened {
			a.Close() //nolint:errcheck // already failing; the open error wins
		}
	}()

	if err := a.openDatabase(ctx, opts.DryRun); err != nil {
		return nil, err
	}
	if err := a.openRealtime(ctx, opts.DryRun); err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := a.openJournal(ctx); err != nil {
			return nil, err
		}
	}

	p := cfg.Provisioning
	a.ClaimCache = claim.NewCache(
		p.ValidationCacheTTL(),
		cache.WithStore(a.KV),
		cache.WithLogger(log),
	)
	a.PruneCache(ctx)

	svcOpts := []devicecfg.Option{
		devicecfg.WithRetry(p.RetryAttempts, p.RetryBaseDelay()),
		devicecfg.WithConnectivityGrace(p.ConnectivityGrace()),
		devicecfg.WithMetrics(a.Metrics),
	}
	if a.Journal != nil {
		svcOpts = append(svcOpts, devicecfg.WithJournal(a.Journal))
	}
	a.Configs = devicecfg.NewService(devicecfg.NewSQLiteStore(a.DB.DB, nil), a.Realtime, opts.Sessions, svcOpts...)
	a.Configs.SetLogger(log)

	opened = true
	return a, nil
}

func (a *App) openDatabase(ctx context.Context, dryRun bool) error {
	dbCfg := database.Config{
		Path:        a.Config.Database.Path,
		WALMode:     a.Config.Database.WALMode,
		BusyTimeout: a.Config.Database.BusyTimeout,
	}
	if dryRun {
		dbCfg = database.Config{Path: database.MemoryPath}
	}

	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	a.DB = db
	a.KV = kvstore.NewSQLiteStore(db.DB, nil)
	a.Claims = claim.NewSQLiteRegistry(db.DB)
	a.Health["database"] = db
	a.Logger.Info("database ready", "path", dbCfg.Path)
	return nil
}

func (a *App) openRealtime(ctx context.Context, dryRun bool) error {
	if dryRun {
		a.Realtime = devicecfg.NewMemoryRealtime()
		a.Logger.Info("realtime store in memory (dry run)")
		return nil
	}

	switch a.Config.Realtime.Backend {
	case config.RealtimeBackendRedis:
		client, err := redis.Connect(ctx, a.Config.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Realtime = devicecfg.NewRedisRealtime(client)
		a.Health["realtime"] = client
		a.Logger.Info("realtime store connected", "backend", "redis")

	case config.RealtimeBackendMQTT:
		client, err := mqtt.Connect(ctx, a.Config.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(a.Logger)
		client.SetOnConnect(func() {
			a.Logger.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			a.Logger.Warn("MQTT disconnected", "error", err)
		})
		a.closers = append(a.closers, client.Close)
		a.Realtime = devicecfg.NewMQTTRealtime(client, a.Config.Realtime.ReadTimeout())
		a.Health["realtime"] = client
		a.Logger.Info("realtime store connected",
			"backend", "mqtt",
			"broker", fmt.Sprintf("%s:%d", a.Config.MQTT.Broker.Host, a.Config.MQTT.Broker.Port),
		)

	default:
		return fmt.Errorf("unknown realtime backend %q", a.Config.Realtime.Backend)
	}
	return nil
}

// openJournal connects InfluxDB when enabled. A disabled journal is not an
// error.
func (a *App) openJournal(ctx context.Context) error {
	client, err := influxdb.Connect(ctx, a.Config.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		a.Logger.Info("InfluxDB journal disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		a.Logger.Error("InfluxDB write error", "error", err)
	})
	a.closers = append(a.closers, client.Close)
	a.Journal = client
	a.Health["influxdb"] = client
	a.Logger.Info("InfluxDB journal connected",
		"url", a.Config.InfluxDB.URL,
		"bucket", a.Config.InfluxDB.Bucket,
	)
	return nil
}

// PruneCache drops expired claim results from memory and the key-value
// store. Failures are logged; a stale entry is never served either way.
func (a *App) PruneCache(ctx context.Context) {
	n, err := a.ClaimCache.Prune(ctx)
	if err != nil {
		a.Logger.Warn("pruning claim cache failed", "error", err)
		return
	}
	if n > 0 {
		a.Logger.Info("claim cache pruned", "removed", n, "cached", a.ClaimCache.Len())
	}
}

// RunJanitor prunes the claim cache every interval until ctx is done.
func (a *App) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.PruneCache(ctx)
		}
	}
}

// Close releases everything Open connected, newest first.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/dispenser-core/internal/cache"
	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/config"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// ConfigService reads and writes device configuration.
// *devicecfg.Service implements it.
type ConfigService interface {
	GetDeviceConfig(ctx context.Context, deviceID string) (devicecfg.DeviceConfig, error)
	SaveDeviceConfig(ctx context.Context, deviceID string, u devicecfg.Update) (devicecfg.SaveResult, error)
	SaveWiFiConfig(ctx context.Context, deviceID, ssid, password string) (devicecfg.SaveResult, error)
}

// HealthChecker is a dependency reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Security     config.SecurityConfig
	Provisioning config.ProvisioningConfig
	Logger       *logging.Logger

	// Configs serves the device configuration endpoints and the wizard saves.
	Configs ConfigService

	// Claims is the registry behind device ID validation. ClaimCache is
	// shared by every wizard session; nil gets a private in-memory cache.
	Claims     claim.Registry
	ClaimCache *cache.ValidationCache[claim.Availability]

	// Progress holds wizard snapshots. Each user gets a prefixed scope.
	Progress kvstore.Store

	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer

	// Health lists named dependencies reported by /health.
	Health map[string]HealthChecker

	Clock   clockwork.Clock
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	configs  ConfigService
	metrics  *metrics.Recorder
	gatherer prometheus.Gatherer
	health   map[string]HealthChecker
	clock    clockwork.Clock
	version  string

	wizards *wizardSessions
	tickets *ticketStore
	hub     *Hub

	server *http.Server
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a new API server with the given dependencies.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Configs == nil {
		return nil, errors.New("api: config service is required")
	}
	if deps.Claims == nil {
		return nil, errors.New("api: claim registry is required")
	}
	if deps.Progress == nil {
		return nil, errors.New("api: progress store is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, errors.New("api: jwt secret is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		configs:  deps.Configs,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		health:   deps.Health,
		clock:    clock,
		version:  deps.Version,
		tickets:  newTicketStore(clock),
	}
	s.hub = NewHub(deps.WS, deps.Logger, deps.Metrics, clock)
	s.wizards = newWizardSessions(deps, clock, s.hub)
	return s, nil
}

// Start begins listening for HTTP requests in a background goroutine.
// The hub and ticket cleanup stop when ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", srv.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wizards.closeAll()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

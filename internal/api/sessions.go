package api

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/cache"
	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/metrics"
	"github.com/nerrad567/dispenser-core/internal/session"
	"github.com/nerrad567/dispenser-core/internal/wizard"
)

// wizardSession is one user's running wizard.
type wizardSession struct {
	ctrl        *wizard.Controller
	validator   *claim.Validator
	unsubscribe func()
}

// wizardSessions owns a controller per signed-in user. Controllers are
// created on first use and live until the server closes.
type wizardSessions struct {
	registry claim.Registry
	cache    *cache.ValidationCache[claim.Availability]
	debounce time.Duration
	progress kvstore.Store
	ttl      time.Duration
	configs  ConfigService
	metrics  *metrics.Recorder
	logger   *logging.Logger
	clock    clockwork.Clock
	hub      *Hub

	mu       sync.Mutex
	sessions map[string]*wizardSession
}

func newWizardSessions(deps Deps, clock clockwork.Clock, hub *Hub) *wizardSessions {
	debounce := claim.DefaultDebounce
	if deps.Provisioning.DebounceMS > 0 {
		debounce = time.Duration(deps.Provisioning.DebounceMS) * time.Millisecond
	}
	ttl := wizard.DefaultProgressTTL
	if deps.Provisioning.ProgressTTLHours > 0 {
		ttl = time.Duration(deps.Provisioning.ProgressTTLHours) * time.Hour
	}

	c := deps.ClaimCache
	if c == nil {
		cacheTTL := claim.DefaultCacheTTL
		if deps.Provisioning.ValidationCacheTTLSeconds > 0 {
			cacheTTL = time.Duration(deps.Provisioning.ValidationCacheTTLSeconds) * time.Second
		}
		c = claim.NewCache(cacheTTL, cache.WithClock(clock), cache.WithLogger(deps.Logger))
	}

	return &wizardSessions{
		registry: deps.Claims,
		cache:    c,
		debounce: debounce,
		progress: deps.Progress,
		ttl:      ttl,
		configs:  deps.Configs,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		clock:    clock,
		hub:      hub,
		sessions: make(map[string]*wizardSession),
	}
}

// newValidator returns a validator sharing the server's result cache.
func (w *wizardSessions) newValidator() *claim.Validator {
	v := claim.NewValidator(w.registry,
		claim.WithClock(w.clock),
		claim.WithDebounce(w.debounce),
		claim.WithCache(w.cache),
		claim.WithMetrics(w.metrics),
	)
	v.SetLogger(w.logger)
	return v
}

// get returns userID's controller, creating it on first use.
func (w *wizardSessions) get(userID string) (*wizard.Controller, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.sessions[userID]; ok {
		return s.ctrl, nil
	}

	logger := w.logger.With("user", userID)
	store := wizard.NewProgressStore(kvstore.WithPrefix(w.progress, "user:"+userID+":"), w.clock, w.ttl)
	store.SetLogger(logger)

	v := w.newValidator()
	ctrl, err := wizard.NewController(wizard.Config{
		Claims:   v,
		Configs:  w.configs,
		Progress: store,
		Sessions: session.Static(userID),
		Metrics:  w.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	unsubscribe := ctrl.Subscribe(func(ev wizard.Event) {
		w.hub.SendToUser(userID, wizardChannel(ev.Type), ev)
	})
	w.sessions[userID] = &wizardSession{ctrl: ctrl, validator: v, unsubscribe: unsubscribe}
	w.logger.Debug("wizard session created", "user", userID)
	return ctrl, nil
}

// closeAll stops pending validations and detaches event listeners.
func (w *wizardSessions) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, s := range w.sessions {
		s.unsubscribe()
		s.validator.Cancel()
		delete(w.sessions, id)
	}
}

// wizardChannel is the websocket event type for a wizard event.
func wizardChannel(t wizard.EventType) string {
	return "wizard." + string(t)
}

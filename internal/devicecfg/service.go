package devicecfg

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/metrics"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
	"github.com/nerrad567/dispenser-core/internal/retry"
	"github.com/nerrad567/dispenser-core/internal/session"
)

// DefaultConnectivityGrace is the wait before reading the device's
// connectivity flag after a Wi-Fi save.
const DefaultConnectivityGrace = 2 * time.Second

// Operation names used in errors and logs.
const (
	OpSave     = "devicecfg.save"
	OpSaveWiFi = "devicecfg.save_wifi"
	OpGet      = "devicecfg.get"
)

// Warning codes attached to a SaveResult.
const (
	WarnRealtimeSyncFailed      = "realtime_sync_failed"
	WarnConnectivityUnconfirmed = "connectivity_unconfirmed"
)

// Warning is a non-fatal problem with a save.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SaveResult describes a save that reached the durable store.
type SaveResult struct {
	DeviceID   string     `json:"deviceId"`
	SyncStatus SyncStatus `json:"syncStatus"`
	// Partial is true when the durable record was written but the
	// real-time document was not.
	Partial bool `json:"partial"`
	// ConnectivityConfirmed is set by Wi-Fi saves once the device reports
	// that it joined the network.
	ConnectivityConfirmed bool      `json:"connectivityConfirmed"`
	Warnings              []Warning `json:"warnings,omitempty"`
}

func (r *SaveResult) warn(code, msg string) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Message: msg})
}

// Journal records the outcome of every store write.
type Journal interface {
	RecordStoreWrite(deviceID, store, op string, attempts int, elapsed time.Duration, err error)
	RecordConnectivity(deviceID string, confirmed bool)
}

type noopJournal struct{}

func (noopJournal) RecordStoreWrite(string, string, string, int, time.Duration, error) {}
func (noopJournal) RecordConnectivity(string, bool)                                    {}

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Service writes device configuration to the durable and real-time stores.
type Service struct {
	durable  DurableStore
	realtime RealtimeStore
	sessions session.Provider

	clock     clockwork.Clock
	attempts  int
	baseDelay time.Duration
	grace     time.Duration

	logger  Logger
	metrics *metrics.Recorder
	journal Journal
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the real clock for retry delays and the grace period.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithRetry sets the attempts per store operation and the linear delay unit.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		s.attempts = attempts
		s.baseDelay = baseDelay
	}
}

// WithConnectivityGrace sets the wait before the Wi-Fi connectivity read.
func WithConnectivityGrace(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

// WithMetrics records store metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithJournal records store outcomes to j.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		if j != nil {
			s.journal = j
		}
	}
}

// NewService creates a sync service.
func NewService(durable DurableStore, realtime RealtimeStore, sessions session.Provider, opts ...Option) *Service {
	s := &Service{
		durable:   durable,
		realtime:  realtime,
		sessions:  sessions,
		clock:     clockwork.NewRealClock(),
		attempts:  retry.DefaultAttempts,
		baseDelay: retry.DefaultBaseDelay,
		grace:     DefaultConnectivityGrace,
		logger:    noopLogger{},
		journal:   noopJournal{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

func (s *Service) currentUser(ctx context.Context, op string) (string, error) {
	user, ok := s.sessions.CurrentUser(ctx)
	if !ok {
		return "", provisioning.Wrap(op, provisioning.ErrNotAuthenticated)
	}
	return user, nil
}

// SaveDeviceConfig merges u into the device's configuration.
//
// The durable record is written first and tagged pending. If u changes any
// real-time field the device document is then read, merged and written
// back, and the record is marked synced. A failure of that second write is
// returned as a partial SaveResult with a warning, not as an error.
//
// Store writes are not abandoned when ctx is cancelled.
func (s *Service) SaveDeviceConfig(ctx context.Context, deviceID string, u Update) (SaveResult, error) {
	user, err := s.currentUser(ctx, OpSave)
	if err != nil {
		return SaveResult{}, err
	}
	if err := ValidateUpdate(deviceID, u); err != nil {
		return SaveResult{}, err
	}

	ctx = context.WithoutCancel(ctx)
	res := SaveResult{DeviceID: deviceID, SyncStatus: SyncPending}

	w := Write{Update: u, UpdatedBy: user}
	if !u.Empty() {
		w.SyncStatus = SyncPending
	}
	if err := s.durableMerge(ctx, deviceID, w); err != nil {
		return SaveResult{}, provisioning.Wrap(OpSave, err)
	}

	if u.Empty() {
		rec, err := s.durable.Get(ctx, deviceID)
		if err == nil && rec != nil {
			res.SyncStatus = rec.SyncStatus
		}
		return res, nil
	}

	err = s.syncRealtime(ctx, deviceID, func(doc Document) error {
		return applyUpdate(doc, u)
	})
	if err != nil {
		s.partial(&res, deviceID, OpSave, err)
		return res, nil
	}

	s.markSynced(ctx, &res, deviceID)
	s.logger.Info("device config saved", "op", OpSave, "device", logging.RedactID(deviceID), "sync_status", res.SyncStatus)
	return res, nil
}

// SaveWiFiConfig stores network credentials for the device. When both
// stores accept them it waits for the grace period and reads the
// connectivity flag the device reports. An unconfirmed connection is a
// warning on the result.
//
// The password is written to the real-time document only and never logged.
func (s *Service) SaveWiFiConfig(ctx context.Context, deviceID, ssid, password string) (SaveResult, error) {
	user, err := s.currentUser(ctx, OpSaveWiFi)
	if err != nil {
		return SaveResult{}, err
	}
	if err := claim.ValidateFormat(deviceID); err != nil {
		return SaveResult{}, err
	}
	if err := ValidateWiFi(ssid, password); err != nil {
		return SaveResult{}, err
	}

	writeCtx := context.WithoutCancel(ctx)
	res := SaveResult{DeviceID: deviceID, SyncStatus: SyncPending}

	configured := true
	w := Write{WiFiConfigured: &configured, WiFiSSID: &ssid, SyncStatus: SyncPending, UpdatedBy: user}
	if err := s.durableMerge(writeCtx, deviceID, w); err != nil {
		return SaveResult{}, provisioning.New(OpSaveWiFi, provisioning.CodeWiFiConfigFailed, err)
	}

	configuredAt := s.clock.Now().UnixMilli()
	err = s.syncRealtime(writeCtx, deviceID, func(doc Document) error {
		for field, v := range map[string]any{
			FieldWiFiSSID:         ssid,
			FieldWiFiPassword:     password,
			FieldWiFiConfigured:   true,
			FieldWiFiConfiguredAt: configuredAt,
		} {
			if err := doc.Set(field, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.partial(&res, deviceID, OpSaveWiFi, err)
		return res, nil
	}
	s.markSynced(writeCtx, &res, deviceID)

	res.ConnectivityConfirmed = s.probeConnectivity(ctx, deviceID)
	if !res.ConnectivityConfirmed {
		res.warn(WarnConnectivityUnconfirmed,
			"The dispenser has not confirmed its Wi-Fi connection yet. It may take a minute to join the network.")
	}
	return res, nil
}

// GetDeviceConfig reads the durable record and fills in defaults for every
// field it lacks.
func (s *Service) GetDeviceConfig(ctx context.Context, deviceID string) (DeviceConfig, error) {
	if _, err := s.currentUser(ctx, OpGet); err != nil {
		return DeviceConfig{}, err
	}
	if err := claim.ValidateFormat(deviceID); err != nil {
		return DeviceConfig{}, err
	}

	var rec *Record
	err := s.run(ctx, deviceID, StoreDurable, "get", func(ctx context.Context) error {
		var err error
		rec, err = s.durable.Get(ctx, deviceID)
		return err
	})
	if err != nil {
		return DeviceConfig{}, provisioning.Wrap(OpGet, err)
	}
	return withDefaults(deviceID, rec), nil
}

func (s *Service) durableMerge(ctx context.Context, deviceID string, w Write) error {
	return s.run(ctx, deviceID, StoreDurable, "merge", func(ctx context.Context) error {
		return s.durable.Merge(ctx, deviceID, w)
	})
}

// syncRealtime reads the device document, applies fn and writes it back.
// Each attempt starts from a fresh read so firmware-written fields are kept.
func (s *Service) syncRealtime(ctx context.Context, deviceID string, fn func(Document) error) error {
	path := ConfigPath(deviceID)
	return s.run(ctx, deviceID, StoreRealtime, "merge", func(ctx context.Context) error {
		doc, found, err := s.realtime.Get(ctx, path)
		if err != nil {
			return err
		}
		if !found {
			doc = Document{}
		}
		if err := fn(doc); err != nil {
			return err
		}
		return s.realtime.Set(ctx, path, doc)
	})
}

func (s *Service) partial(res *SaveResult, deviceID, op string, err error) {
	s.metrics.IncPartialSave()
	s.logger.Warn("real-time sync failed, durable record left pending",
		"op", op, "device", logging.RedactID(deviceID), "error", err)
	res.Partial = true
	res.warn(WarnRealtimeSyncFailed, provisioning.Describe(provisioning.Classify(err)).UserMessage)
}

func (s *Service) markSynced(ctx context.Context, res *SaveResult, deviceID string) {
	err := s.run(ctx, deviceID, StoreDurable, "set_sync_status", func(ctx context.Context) error {
		return s.durable.SetSyncStatus(ctx, deviceID, SyncSynced)
	})
	if err != nil {
		return
	}
	res.SyncStatus = SyncSynced
}

// probeConnectivity waits for the grace period and reads wifi_connected
// once. It never fails; errors count as unconfirmed.
func (s *Service) probeConnectivity(ctx context.Context, deviceID string) bool {
	select {
	case <-s.clock.After(s.grace):
	case <-ctx.Done():
		s.metrics.IncConnectivityProbe("cancelled")
		return false
	}

	doc, found, err := s.realtime.Get(ctx, ConfigPath(deviceID))
	if err != nil {
		s.metrics.IncConnectivityProbe("error")
		s.logger.Debug("connectivity probe failed", "device", logging.RedactID(deviceID), "error", err)
		s.journal.RecordConnectivity(deviceID, false)
		return false
	}

	confirmed := found && doc.Bool(FieldWiFiConnected)
	if confirmed {
		s.metrics.IncConnectivityProbe("confirmed")
	} else {
		s.metrics.IncConnectivityProbe("unconfirmed")
	}
	s.journal.RecordConnectivity(deviceID, confirmed)
	return confirmed
}

// run executes one store operation under the retry policy and records it.
func (s *Service) run(ctx context.Context, deviceID, store, op string, fn func(context.Context) error) error {
	start := s.clock.Now()
	attempts := 0

	err := retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		return fn(ctx)
	},
		retry.WithAttempts(s.attempts),
		retry.WithBaseDelay(s.baseDelay),
		retry.WithClock(s.clock),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			s.metrics.IncStoreRetry(store)
			s.logger.Debug("retrying store operation",
				"store", store, "op", op, "device", logging.RedactID(deviceID),
				"attempt", attempt, "delay", delay, "error", err)
		}),
	)

	elapsed := s.clock.Since(start)
	s.metrics.ObserveStoreOp(store, op, elapsed, err)
	s.journal.RecordStoreWrite(deviceID, store, op, attempts, elapsed, err)
	if err != nil {
		s.logger.Warn("store operation failed",
			"store", store, "op", op, "device", logging.RedactID(deviceID),
			"attempts", attempts, "error", err)
	}
	return err
}

// applyUpdate writes the real-time fields of u into doc.
func applyUpdate(doc Document, u Update) error {
	if u.AlarmMode != nil {
		if err := doc.Set(FieldAlarmMode, *u.AlarmMode); err != nil {
			return err
		}
	}
	if u.LEDIntensity != nil {
		if err := doc.Set(FieldLEDIntensity, *u.LEDIntensity); err != nil {
			return err
		}
	}
	if u.LEDColor != nil {
		if err := doc.Set(FieldLEDColor, *u.LEDColor); err != nil {
			return err
		}
	}
	return nil
}

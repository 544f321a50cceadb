package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
)

// DefaultProgressTTL is the age after which a snapshot is discarded.
const DefaultProgressTTL = 7 * 24 * time.Hour

// progressKey is the single slot holding the active snapshot.
const progressKey = "wizard:progress"

// FormData is everything the user has entered so far.
type FormData struct {
	DeviceID string `json:"deviceId"`
	WiFiSSID string `json:"wifiSSID"`
	// WiFiPassword is held in memory only and never written to a snapshot.
	WiFiPassword string                `json:"-"`
	AlarmMode    devicecfg.UIAlarmMode `json:"alarmMode"`
	LEDIntensity int                   `json:"ledIntensity"`
	LEDColor     string                `json:"ledColor"`
	Volume       int                   `json:"volume"`
}

// DefaultFormData is the form of a fresh wizard.
func DefaultFormData() FormData {
	return FormData{
		AlarmMode:    devicecfg.UIAlarmBoth,
		LEDIntensity: 50,
		LEDColor:     devicecfg.White.Hex(),
		Volume:       70,
	}
}

// Preferences returns the behaviour settings of the form.
func (f FormData) Preferences() devicecfg.Preferences {
	return devicecfg.Preferences{
		AlarmMode:    f.AlarmMode,
		LEDIntensity: f.LEDIntensity,
		LEDColor:     f.LEDColor,
	}
}

// Progress is a resumable wizard snapshot.
type Progress struct {
	CurrentStepIndex int      `json:"currentStepIndex"`
	TotalSteps       int      `json:"totalSteps"`
	FormData         FormData `json:"formData"`
	OwnerUserID      string   `json:"ownerUserId"`
	SavedAtEpochMs   int64    `json:"savedAtEpochMs"`
}

// SavedAt returns the snapshot time.
func (p Progress) SavedAt() time.Time {
	return time.UnixMilli(p.SavedAtEpochMs)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// ProgressStore keeps one wizard snapshot in local storage.
type ProgressStore struct {
	store  kvstore.Store
	clock  clockwork.Clock
	ttl    time.Duration
	logger Logger
}

// NewProgressStore creates a store. A zero ttl means DefaultProgressTTL and
// a nil clock the real clock.
func NewProgressStore(store kvstore.Store, clock clockwork.Clock, ttl time.Duration) *ProgressStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &ProgressStore{store: store, clock: clock, ttl: ttl, logger: noopLogger{}}
}

// SetLogger sets the logger for the store.
func (s *ProgressStore) SetLogger(logger Logger) {
	s.logger = logger
}

// Save stamps p with the current time and replaces the stored snapshot.
func (s *ProgressStore) Save(ctx context.Context, p Progress) error {
	p.SavedAtEpochMs = s.clock.Now().UnixMilli()
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding wizard progress: %w", err)
	}
	if err := s.store.Set(ctx, progressKey, raw); err != nil {
		return fmt.Errorf("saving wizard progress: %w", err)
	}
	return nil
}

// Restore returns the snapshot if it belongs to userID and is younger than
// the TTL. A snapshot owned by someone else, expired or unreadable is
// deleted and nil is returned.
func (s *ProgressStore) Restore(ctx context.Context, userID string) (*Progress, error) {
	raw, err := s.store.Get(ctx, progressKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil //nolint:nilnil // no snapshot is a valid answer
	}
	if err != nil {
		return nil, fmt.Errorf("loading wizard progress: %w", err)
	}

	var p Progress
	reason := ""
	switch {
	case json.Unmarshal(raw, &p) != nil:
		reason = "corrupt"
	case p.OwnerUserID != userID:
		reason = "owner mismatch"
	case s.clock.Since(p.SavedAt()) > s.ttl:
		reason = "expired"
	}
	if reason != "" {
		s.logger.Info("discarding wizard progress", "reason", reason)
		if err := s.Clear(ctx); err != nil {
			return nil, err
		}
		return nil, nil //nolint:nilnil // discarded snapshot reads as none
	}
	return &p, nil
}

// Clear removes the snapshot.
func (s *ProgressStore) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, progressKey); err != nil {
		return fmt.Errorf("clearing wizard progress: %w", err)
	}
	return nil
}

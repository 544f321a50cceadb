package claim

import (
	"context"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/dispenser-core/internal/cache"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/metrics"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// Device ID format limits.
const (
	MinIDLength = 5
	MaxIDLength = 100
)

// Defaults for validator timing.
const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultCacheTTL = 5 * time.Minute
)

const opValidate = "claim.validate"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateFormat checks a device ID's length and charset. It is pure and
// returns a *provisioning.ValidationError on failure.
func ValidateFormat(deviceID string) error {
	var msg string
	switch {
	case deviceID == "":
		msg = "Device ID is required"
	case len(deviceID) < MinIDLength:
		msg = "Device ID must be at least 5 characters"
	case len(deviceID) > MaxIDLength:
		msg = "Device ID must be at most 100 characters"
	case !idPattern.MatchString(deviceID):
		msg = "Device ID may only contain letters, numbers, dashes and underscores"
	default:
		return nil
	}
	return &provisioning.ValidationError{Field: "deviceId", Message: msg}
}

// Outcome is the result class of a validation.
type Outcome string

// Validation outcomes.
const (
	OutcomePending           Outcome = "pending"
	OutcomeOK                Outcome = "ok"
	OutcomeFormatError       Outcome = "format_error"
	OutcomeAvailabilityError Outcome = "availability_error"
)

// Result is the outcome of validating one device ID.
type Result struct {
	DeviceID string
	Token    uint64
	Outcome  Outcome
	// Err is a *provisioning.ValidationError for format errors and a
	// *provisioning.Error for availability errors.
	Err    error
	Cached bool
}

// OK reports whether the device ID is well-formed and available.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// Logger defines the logging interface used by the Validator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Availability is the cached form of an ok result.
type Availability struct {
	DeviceID  string `json:"deviceId"`
	Available bool   `json:"available"`
}

// Validator checks device IDs for format and availability.
type Validator struct {
	registry Registry
	cache    *cache.ValidationCache[Availability]
	clock    clockwork.Clock
	debounce time.Duration
	logger   Logger
	metrics  *metrics.Recorder
	group    singleflight.Group

	mu        sync.Mutex
	token     uint64
	timer     clockwork.Timer
	latest    Result
	listeners []func(Result)
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock replaces the real clock used for debouncing.
func WithClock(clock clockwork.Clock) Option {
	return func(v *Validator) { v.clock = clock }
}

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(v *Validator) { v.debounce = d }
}

// WithCache replaces the default memory-only result cache.
func WithCache(c *cache.ValidationCache[Availability]) Option {
	return func(v *Validator) { v.cache = c }
}

// WithMetrics records lookup metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(v *Validator) { v.metrics = r }
}

// NewCache creates a result cache suitable for WithCache. Pass cache options
// such as cache.WithStore to persist results.
func NewCache(ttl time.Duration, opts ...cache.Option) *cache.ValidationCache[Availability] {
	return cache.New[Availability]("claim", ttl, opts...)
}

// NewValidator creates a validator over registry.
func NewValidator(registry Registry, opts ...Option) *Validator {
	v := &Validator{
		registry: registry,
		clock:    clockwork.NewRealClock(),
		debounce: DefaultDebounce,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.cache == nil {
		v.cache = cache.New[Availability]("claim", DefaultCacheTTL, cache.WithClock(v.clock))
	}
	return v
}

// SetLogger sets the logger for the validator.
func (v *Validator) SetLogger(logger Logger) {
	v.logger = logger
}

// OnResult registers fn to receive every applied result. Stale results are
// never delivered. fn runs on the goroutine that resolved the lookup.
func (v *Validator) OnResult(fn func(Result)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// Latest returns the most recent applied result, or a pending result while a
// lookup for the newest request is outstanding.
func (v *Validator) Latest() Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}

// Request schedules a debounced validation of deviceID and returns its token.
// A request replaces any pending one. Format errors are applied at once
// without a lookup. ctx bounds the lookup when it runs.
func (v *Validator) Request(ctx context.Context, deviceID string) uint64 {
	v.mu.Lock()
	tok := v.supersedeLocked()

	if err := ValidateFormat(deviceID); err != nil {
		v.mu.Unlock()
		v.apply(Result{DeviceID: deviceID, Token: tok, Outcome: OutcomeFormatError, Err: err})
		return tok
	}

	v.latest = Result{DeviceID: deviceID, Token: tok, Outcome: OutcomePending}
	v.timer = v.clock.AfterFunc(v.debounce, func() {
		v.dispatch(ctx, tok, deviceID)
	})
	v.mu.Unlock()
	return tok
}

// ValidateNow validates deviceID synchronously, superseding any pending
// debounced request.
func (v *Validator) ValidateNow(ctx context.Context, deviceID string) Result {
	v.mu.Lock()
	tok := v.supersedeLocked()
	v.latest = Result{DeviceID: deviceID, Token: tok, Outcome: OutcomePending}
	v.mu.Unlock()

	res := v.check(ctx, deviceID)
	res.Token = tok
	v.apply(res)
	return res
}

// Cancel drops any pending request. An in-flight lookup still completes but
// its result is discarded.
func (v *Validator) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.supersedeLocked()
	v.latest = Result{}
}

// supersedeLocked stops the pending timer and issues a new token.
func (v *Validator) supersedeLocked() uint64 {
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.token++
	return v.token
}

func (v *Validator) dispatch(ctx context.Context, tok uint64, deviceID string) {
	v.mu.Lock()
	if tok != v.token {
		v.mu.Unlock()
		return
	}
	v.timer = nil
	v.mu.Unlock()

	res := v.check(ctx, deviceID)
	res.Token = tok
	v.apply(res)
}

// apply publishes res if its token is still the latest.
func (v *Validator) apply(res Result) bool {
	v.mu.Lock()
	if res.Token != v.token {
		v.mu.Unlock()
		v.metrics.IncClaimStale()
		v.logger.Debug("discarding stale claim result", "token", res.Token, "outcome", res.Outcome)
		return false
	}
	v.latest = res
	listeners := slices.Clone(v.listeners)
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
	return true
}

// check runs the format and availability checks without touching tokens.
func (v *Validator) check(ctx context.Context, deviceID string) Result {
	if err := ValidateFormat(deviceID); err != nil {
		return Result{DeviceID: deviceID, Outcome: OutcomeFormatError, Err: err}
	}

	if a, ok := v.cache.Get(ctx, deviceID); ok && a.Available {
		return Result{DeviceID: deviceID, Outcome: OutcomeOK, Cached: true}
	}

	val, err, _ := v.group.Do(deviceID, func() (any, error) {
		return v.registry.Lookup(ctx, deviceID)
	})
	if err != nil {
		v.metrics.IncClaimLookup("error")
		v.logger.Warn("claim lookup failed", "op", opValidate, "device", logging.RedactID(deviceID), "error", err)
		return Result{
			DeviceID: deviceID,
			Outcome:  OutcomeAvailabilityError,
			Err:      provisioning.Wrap(opValidate, err),
		}
	}

	rec, _ := val.(*Record) //nolint:errcheck // singleflight only carries *Record
	if rec.Claimed() {
		v.metrics.IncClaimLookup("claimed")
		return Result{
			DeviceID: deviceID,
			Outcome:  OutcomeAvailabilityError,
			Err:      provisioning.New(opValidate, provisioning.CodeDeviceAlreadyClaimed, nil),
		}
	}

	v.metrics.IncClaimLookup("available")
	if err := v.cache.Set(ctx, deviceID, Availability{DeviceID: deviceID, Available: true}); err != nil {
		v.logger.Warn("caching claim result failed", "device", logging.RedactID(deviceID), "error", err)
	}
	return Result{DeviceID: deviceID, Outcome: OutcomeOK}
}

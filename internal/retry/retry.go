// Package retry runs store operations with a bounded, linearly growing delay
// between attempts. Only transient transport failures are retried.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// Defaults used when no option overrides them.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// Config holds retry configuration.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// BaseDelay is multiplied by the attempt number that just failed.
	BaseDelay time.Duration

	// Clock drives the delay timer.
	Clock clockwork.Clock

	// OnRetry is called before each delay with the failed attempt number.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// WithAttempts sets the total number of attempts.
func WithAttempts(n int) Option {
	return func(c *Config) { c.Attempts = n }
}

// WithBaseDelay sets the delay unit.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Config) { c.BaseDelay = d }
}

// WithClock replaces the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) { c.Clock = clock }
}

// WithOnRetry registers a hook invoked before each delay.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// IsTransient reports whether err carries one of the transport codes worth
// retrying: unavailable, deadline-exceeded, resource-exhausted or aborted.
func IsTransient(err error) bool {
	switch provisioning.CodeOf(err) {
	case provisioning.TransportUnavailable,
		provisioning.TransportDeadlineExceeded,
		provisioning.TransportResourceExhausted,
		provisioning.TransportAborted:
		return true
	default:
		return false
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are used up. After failed attempt n it waits BaseDelay×n. The last
// error is returned unchanged. A cancelled ctx stops the wait and returns
// ctx.Err(), but never interrupts an attempt that is already running.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	cfg := Config{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		Clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if cfg.OnRetry != nil {
		notify = func(err error, delay time.Duration) {
			cfg.OnRetry(attempt, delay, err)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: cfg.BaseDelay}, uint64(cfg.Attempts-1)), //nolint:gosec // Attempts >= 1
		ctx,
	)
	return backoff.RetryNotifyWithTimer(operation, policy, notify, &clockTimer{clock: cfg.Clock})
}

// linearBackOff yields base, 2×base, 3×base, ...
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// clockTimer adapts a clockwork timer to backoff.Timer.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}

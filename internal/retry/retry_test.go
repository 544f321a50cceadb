package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

func unavailable() error {
	return provisioning.NewTransportError("store.set", provisioning.TransportUnavailable, errors.New("connection refused"))
}

type retryLog struct {
	mu       sync.Mutex
	attempts []int
	delays   []time.Duration
}

func (l *retryLog) record(attempt int, delay time.Duration, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempt)
	l.delays = append(l.delays, delay)
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	base := time.Second
	log := &retryLog{}
	calls := 0

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, func(context.Context) error {
			calls++
			if calls < 3 {
				return unavailable()
			}
			return nil
		}, WithClock(clock), WithBaseDelay(base), WithOnRetry(log.record))
	}()

	for _, step := range []time.Duration{base, 2 * base} {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for retry timer: %v", err)
		}
		clock.Advance(step)
	}

	if err := <-done; err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.delays) != 2 || log.delays[0] != base || log.delays[1] != 2*base {
		t.Errorf("delays = %v, want [%v %v]", log.delays, base, 2*base)
	}
	if log.attempts[0] != 1 || log.attempts[1] != 2 {
		t.Errorf("retry attempts = %v, want [1 2]", log.attempts)
	}
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return unavailable()
	}, WithBaseDelay(time.Millisecond))

	if calls != DefaultAttempts {
		t.Errorf("attempts = %d, want %d", calls, DefaultAttempts)
	}
	if provisioning.CodeOf(err) != provisioning.TransportUnavailable {
		t.Errorf("Do() error = %v, want last unavailable error", err)
	}
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	codes := []provisioning.TransportCode{
		provisioning.TransportPermissionDenied,
		provisioning.TransportInvalidArgument,
		provisioning.TransportNotFound,
	}
	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			calls := 0
			want := provisioning.NewTransportError("store.get", code, nil)
			err := Do(context.Background(), func(context.Context) error {
				calls++
				return want
			}, WithBaseDelay(time.Millisecond))

			if calls != 1 {
				t.Errorf("attempts = %d, want 1", calls)
			}
			if !errors.Is(err, want) {
				t.Errorf("Do() error = %v, want %v", err, want)
			}
		})
	}
}

func TestDo_PlainErrorNotRetried(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("disk on fire")
	}, WithBaseDelay(time.Millisecond))
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, func(context.Context) error { return unavailable() }, WithClock(clock))
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("waiting for retry timer: %v", err)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		code provisioning.TransportCode
		want bool
	}{
		{provisioning.TransportUnavailable, true},
		{provisioning.TransportDeadlineExceeded, true},
		{provisioning.TransportResourceExhausted, true},
		{provisioning.TransportAborted, true},
		{provisioning.TransportTimeout, false},
		{provisioning.TransportNotFound, false},
		{provisioning.TransportPermissionDenied, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := provisioning.NewTransportError("op", tt.code, nil)
			if got := IsTransient(err); got != tt.want {
				t.Errorf("IsTransient(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}

	if !IsTransient(context.DeadlineExceeded) {
		t.Error("bare deadline exceeded should be transient")
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{base: 100 * time.Millisecond}
	for i, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond} {
		if got := b.NextBackOff(); got != want {
			t.Errorf("NextBackOff() #%d = %v, want %v", i+1, got, want)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 100*time.Millisecond {
		t.Errorf("after Reset NextBackOff() = %v", got)
	}
}

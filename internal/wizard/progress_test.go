package wizard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
)

func newProgressStore(t *testing.T) (*ProgressStore, kvstore.Store, *clockwork.FakeClock) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	return NewProgressStore(kv, clock, 0), kv, clock
}

func sampleProgress(owner string) Progress {
	form := DefaultFormData()
	form.DeviceID = "DEVICE-12345"
	form.WiFiSSID = "HomeNet"
	return Progress{
		CurrentStepIndex: int(StepWiFi),
		TotalSteps:       TotalSteps,
		FormData:         form,
		OwnerUserID:      owner,
	}
}

func TestProgressStore_TTL(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		kept bool
	}{
		{"one hour old", time.Hour, true},
		{"just under seven days", 7*24*time.Hour - time.Minute, true},
		{"eight days old", 8 * 24 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, kv, clock := newProgressStore(t)
			ctx := context.Background()

			saved := sampleProgress("usr-A")
			if err := store.Save(ctx, saved); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			saved.SavedAtEpochMs = clock.Now().UnixMilli()
			clock.Advance(tt.age)

			got, err := store.Restore(ctx, "usr-A")
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if !tt.kept {
				if got != nil {
					t.Errorf("Restore() = %+v, want none", got)
				}
				if _, err := kv.Get(ctx, progressKey); !errors.Is(err, kvstore.ErrNotFound) {
					t.Error("expired snapshot should be deleted")
				}
				return
			}
			if got == nil || *got != saved {
				t.Errorf("Restore() = %+v, want %+v", got, saved)
			}
		})
	}
}

func TestProgressStore_Ownership(t *testing.T) {
	store, _, _ := newProgressStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleProgress("A")); err != nil {
		t.Fatal(err)
	}
	if got, err := store.Restore(ctx, "B"); err != nil || got != nil {
		t.Errorf("Restore(B) = %+v, %v; want none", got, err)
	}
	// The foreign snapshot is gone for its owner too.
	if got, _ := store.Restore(ctx, "A"); got != nil {
		t.Errorf("Restore(A) after mismatch = %+v, want none", got)
	}
}

func TestProgressStore_SingleSlot(t *testing.T) {
	store, _, _ := newProgressStore(t)
	ctx := context.Background()

	first := sampleProgress("A")
	second := sampleProgress("A")
	second.CurrentStepIndex = int(StepPreferences)
	_ = store.Save(ctx, first)
	_ = store.Save(ctx, second)

	got, _ := store.Restore(ctx, "A")
	if got == nil || got.CurrentStepIndex != int(StepPreferences) {
		t.Errorf("Restore() = %+v, want latest snapshot", got)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got, _ := store.Restore(ctx, "A"); got != nil {
		t.Error("Restore() after Clear should be none")
	}
}

func TestProgressStore_PasswordNotPersisted(t *testing.T) {
	store, kv, _ := newProgressStore(t)
	ctx := context.Background()

	p := sampleProgress("A")
	p.FormData.WiFiPassword = "correct-horse"
	_ = store.Save(ctx, p)

	raw, _ := kv.Get(ctx, progressKey)
	if contains(string(raw), "correct-horse") {
		t.Errorf("snapshot contains the password: %s", raw)
	}
	got, _ := store.Restore(ctx, "A")
	if got.FormData.WiFiPassword != "" {
		t.Error("restored password should be empty")
	}
}

func TestProgressStore_Corrupt(t *testing.T) {
	store, kv, _ := newProgressStore(t)
	ctx := context.Background()
	_ = kv.Set(ctx, progressKey, []byte("{broken"))

	if got, err := store.Restore(ctx, "A"); got != nil || err != nil {
		t.Errorf("Restore(corrupt) = %+v, %v", got, err)
	}
	if _, err := kv.Get(ctx, progressKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("corrupt snapshot should be deleted")
	}
}

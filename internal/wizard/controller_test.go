package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
	"github.com/nerrad567/dispenser-core/internal/session"
)

// fakeClaims records requests; tests deliver results explicitly.
type fakeClaims struct {
	mu       sync.Mutex
	listener func(claim.Result)
	requests []string
	cancels  int
	now      map[string]claim.Result
}

func (f *fakeClaims) Request(_ context.Context, id string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, id)
	return uint64(len(f.requests))
}

func (f *fakeClaims) ValidateNow(_ context.Context, id string) claim.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.now[id]; ok {
		return res
	}
	return claim.Result{DeviceID: id, Outcome: claim.OutcomeOK}
}

func (f *fakeClaims) OnResult(fn func(claim.Result)) { f.listener = fn }

func (f *fakeClaims) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeClaims) deliver(res claim.Result) { f.listener(res) }

func (f *fakeClaims) ok(id string) { f.deliver(claim.Result{DeviceID: id, Outcome: claim.OutcomeOK}) }

type fakeSaver struct {
	wifiRes  devicecfg.SaveResult
	wifiErr  error
	prefsErr error
	updates  []devicecfg.Update
	wifi     []string
}

func (f *fakeSaver) SaveWiFiConfig(_ context.Context, id, ssid, _ string) (devicecfg.SaveResult, error) {
	f.wifi = append(f.wifi, id+"/"+ssid)
	if f.wifiErr != nil {
		return devicecfg.SaveResult{}, f.wifiErr
	}
	res := f.wifiRes
	res.DeviceID = id
	return res, nil
}

func (f *fakeSaver) SaveDeviceConfig(_ context.Context, id string, u devicecfg.Update) (devicecfg.SaveResult, error) {
	f.updates = append(f.updates, u)
	if f.prefsErr != nil {
		return devicecfg.SaveResult{}, f.prefsErr
	}
	return devicecfg.SaveResult{DeviceID: id, SyncStatus: devicecfg.SyncSynced}, nil
}

type recordingFeedback struct {
	mu            sync.Mutex
	announcements []string
	haptics       []Haptic
}

func (r *recordingFeedback) Announce(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announcements = append(r.announcements, msg)
}

func (r *recordingFeedback) Emit(kind Haptic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.haptics = append(r.haptics, kind)
}

func (r *recordingFeedback) lastHaptic() Haptic {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.haptics) == 0 {
		return ""
	}
	return r.haptics[len(r.haptics)-1]
}

type harness struct {
	c        *Controller
	claims   *fakeClaims
	saver    *fakeSaver
	progress *ProgressStore
	feedback *recordingFeedback
	events   []Event
}

func newHarness(t *testing.T, kv kvstore.Store) *harness {
	t.Helper()
	if kv == nil {
		kv = kvstore.NewMemoryStore()
	}
	h := &harness{
		claims:   &fakeClaims{now: map[string]claim.Result{}},
		saver:    &fakeSaver{},
		progress: NewProgressStore(kv, clockwork.NewFakeClock(), 0),
		feedback: &recordingFeedback{},
	}
	c, err := NewController(Config{
		Claims:    h.claims,
		Configs:   h.saver,
		Progress:  h.progress,
		Sessions:  session.Static("usr-1"),
		Announcer: h.feedback,
		Haptics:   h.feedback,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	c.Subscribe(func(ev Event) { h.events = append(h.events, ev) })
	h.c = c
	return h
}

func (h *harness) mount(t *testing.T) {
	t.Helper()
	if _, err := h.c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
}

// advanceTo walks a fresh wizard to step using the happy path.
func (h *harness) advanceTo(t *testing.T, step Step) {
	t.Helper()
	ctx := context.Background()
	for h.c.State().Step < step {
		switch h.c.State().Step {
		case StepDeviceID:
			if err := h.c.SetDeviceID(ctx, "DEVICE-12345"); err != nil {
				t.Fatal(err)
			}
			h.claims.ok("DEVICE-12345")
		case StepVerify:
			if _, err := h.c.Verify(ctx); err != nil {
				t.Fatal(err)
			}
		case StepWiFi:
			if _, err := h.c.SubmitWiFi(ctx, "HomeNet", "correct-horse"); err != nil {
				t.Fatal(err)
			}
		case StepPreferences:
			prefs := devicecfg.Preferences{AlarmMode: devicecfg.UIAlarmVibrate, LEDIntensity: 50, LEDColor: "#3B82F6"}
			if _, err := h.c.SubmitPreferences(ctx, prefs, 30); err != nil {
				t.Fatal(err)
			}
		}
		if err := h.c.Next(ctx); err != nil {
			t.Fatalf("Next() from %v error = %v", h.c.State().Step, err)
		}
	}
}

func (h *harness) saved(t *testing.T) *Progress {
	t.Helper()
	p, err := h.progress.Restore(context.Background(), "usr-1")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	return p
}

func TestNewController_RequiresDependencies(t *testing.T) {
	if _, err := NewController(Config{}); !errors.Is(err, ErrMissingComponent) {
		t.Errorf("NewController({}) error = %v", err)
	}
}

func TestController_MountFresh(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)

	st := h.c.State()
	if st.Step != StepWelcome || !st.CanProceed || st.ResumeOffer != nil {
		t.Errorf("state = %+v", st)
	}
	if len(h.feedback.announcements) != 1 || h.feedback.announcements[0] != "Step 1 of 6: Welcome" {
		t.Errorf("announcements = %v", h.feedback.announcements)
	}
	if h.saved(t) != nil {
		t.Error("mounting should not create a snapshot")
	}
}

func TestController_MountRequiresSession(t *testing.T) {
	c, err := NewController(Config{
		Claims:   &fakeClaims{},
		Configs:  &fakeSaver{},
		Progress: NewProgressStore(kvstore.NewMemoryStore(), nil, 0),
		Sessions: session.Static(""),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Mount(context.Background()); provisioning.CodeFor(err) != provisioning.CodePermissionDenied {
		t.Errorf("Mount() error = %v, want PERMISSION_DENIED", err)
	}
}

func TestController_NextIsGated(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	ctx := context.Background()

	if err := h.c.Next(ctx); err != nil {
		t.Fatalf("Next() from WELCOME error = %v", err)
	}
	st := h.c.State()
	if st.Step != StepDeviceID || st.CanProceed {
		t.Fatalf("state = %+v, want DEVICE_ID not proceedable", st)
	}
	if err := h.c.Next(ctx); !errors.Is(err, ErrCannotProceed) {
		t.Errorf("Next() before validation error = %v", err)
	}
	if h.feedback.lastHaptic() != HapticError {
		t.Errorf("haptic = %q, want error", h.feedback.lastHaptic())
	}

	if err := h.c.SetDeviceID(ctx, "DEVICE-12345"); err != nil {
		t.Fatal(err)
	}
	if st := h.c.State(); st.Validation != claim.OutcomePending || st.CanProceed {
		t.Errorf("state after SetDeviceID = %+v", st)
	}
	h.claims.ok("DEVICE-12345")
	if !h.c.State().CanProceed {
		t.Fatal("ok result should allow proceeding")
	}

	if err := h.c.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	st = h.c.State()
	if st.Step != StepVerify || st.CanProceed {
		t.Errorf("state = %+v, want VERIFY with proceed reset", st)
	}
	if p := h.saved(t); p == nil || p.CurrentStepIndex != int(StepVerify) || p.FormData.DeviceID != "DEVICE-12345" {
		t.Errorf("snapshot = %+v", p)
	}
	if h.claims.cancels == 0 {
		t.Error("leaving DEVICE_ID should drop pending validation")
	}
}

func TestController_IgnoresResultsForOtherIDs(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.advanceTo(t, StepDeviceID)
	ctx := context.Background()

	_ = h.c.SetDeviceID(ctx, "ABCDE")
	_ = h.c.SetDeviceID(ctx, "ABCDEF")
	h.claims.ok("ABCDE")

	if st := h.c.State(); st.CanProceed || st.Validation != claim.OutcomePending {
		t.Errorf("result for superseded id applied: %+v", st)
	}

	claimed := provisioning.New("claim.validate", provisioning.CodeDeviceAlreadyClaimed, nil)
	h.claims.deliver(claim.Result{DeviceID: "ABCDEF", Outcome: claim.OutcomeAvailabilityError, Err: claimed})
	st := h.c.State()
	if st.CanProceed || st.Error == nil || st.Error.Code != provisioning.CodeDeviceAlreadyClaimed || st.Error.Retryable {
		t.Errorf("state = %+v, want non-retryable claimed error", st)
	}
}

func TestController_Back(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	ctx := context.Background()

	if err := h.c.Back(ctx); !errors.Is(err, ErrFirstStep) {
		t.Errorf("Back() on WELCOME error = %v", err)
	}

	h.advanceTo(t, StepWiFi)
	if err := h.c.Back(ctx); err != nil {
		t.Fatalf("Back() error = %v", err)
	}
	st := h.c.State()
	if st.Step != StepVerify || st.CanProceed {
		t.Errorf("state = %+v, want VERIFY with proceed reset", st)
	}
	if p := h.saved(t); p.CurrentStepIndex != int(StepVerify) {
		t.Errorf("snapshot step = %d", p.CurrentStepIndex)
	}
}

func TestController_BackGesture(t *testing.T) {
	t.Run("mid wizard goes back", func(t *testing.T) {
		h := newHarness(t, nil)
		h.mount(t)
		h.advanceTo(t, StepDeviceID)

		exit, _, err := h.c.HandleBackGesture(context.Background())
		if err != nil || exit || h.c.State().Step != StepWelcome {
			t.Errorf("gesture = exit %v, err %v, step %v", exit, err, h.c.State().Step)
		}
	})

	t.Run("welcome with clean form exits", func(t *testing.T) {
		h := newHarness(t, nil)
		h.mount(t)

		exit, confirm, err := h.c.HandleBackGesture(context.Background())
		if err != nil || !exit || confirm || !h.c.State().Exited {
			t.Errorf("gesture = exit %v, confirm %v, err %v", exit, confirm, err)
		}
		if err := h.c.Next(context.Background()); !errors.Is(err, ErrExited) {
			t.Errorf("Next() after exit error = %v", err)
		}
	})

	t.Run("welcome with dirty form asks", func(t *testing.T) {
		h := newHarness(t, nil)
		h.mount(t)
		ctx := context.Background()
		h.advanceTo(t, StepDeviceID)
		_ = h.c.SetDeviceID(ctx, "DEVICE-12345")
		_ = h.c.Back(ctx)

		exit, confirm, err := h.c.HandleBackGesture(ctx)
		if err != nil || !exit || !confirm {
			t.Fatalf("gesture = exit %v, confirm %v, err %v", exit, confirm, err)
		}
		st := h.c.State()
		if !st.ExitPending || st.Exited {
			t.Errorf("state = %+v, want exit pending", st)
		}
	})
}

func TestController_ExitConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	ctx := context.Background()

	if err := h.c.ConfirmExit(); !errors.Is(err, ErrNoExitRequested) {
		t.Errorf("ConfirmExit() without request error = %v", err)
	}

	_ = h.c.UpdateForm(ctx, func(f *FormData) { f.Volume = 10 })
	confirm, err := h.c.RequestExit()
	if err != nil || !confirm {
		t.Fatalf("RequestExit() = %v, %v; want confirmation", confirm, err)
	}
	h.c.CancelExit()
	if h.c.State().ExitPending {
		t.Error("CancelExit should clear the pending exit")
	}

	_, _ = h.c.RequestExit()
	if err := h.c.ConfirmExit(); err != nil {
		t.Fatalf("ConfirmExit() error = %v", err)
	}
	if !h.c.State().Exited {
		t.Error("wizard should have exited")
	}
	if h.saved(t) == nil {
		t.Error("progress should be kept for resuming after exit")
	}
}

func TestController_ResumeOffer(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	ctx := context.Background()

	first := newHarness(t, kv)
	first.mount(t)
	first.advanceTo(t, StepWiFi)

	h := newHarness(t, kv)
	p, err := h.c.Mount(ctx)
	if err != nil || p == nil {
		t.Fatalf("Mount() = %+v, %v; want offer", p, err)
	}
	st := h.c.State()
	if st.Step != StepWelcome || st.ResumeOffer == nil {
		t.Fatalf("state = %+v, want offer without auto-resume", st)
	}
	if err := h.c.Next(ctx); !errors.Is(err, ErrDecisionPending) {
		t.Errorf("Next() with open offer error = %v", err)
	}

	if err := h.c.Resume(ctx, nil); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	st = h.c.State()
	if st.Step != StepWiFi || st.Form.DeviceID != "DEVICE-12345" || st.CanProceed || st.ResumeOffer != nil {
		t.Errorf("state after resume = %+v", st)
	}
	if err := h.c.Resume(ctx, nil); !errors.Is(err, ErrNoProgress) {
		t.Errorf("second Resume() error = %v", err)
	}
}

func TestController_Discard(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	first := newHarness(t, kv)
	first.mount(t)
	first.advanceTo(t, StepVerify)

	h := newHarness(t, kv)
	h.mount(t)
	if err := h.c.Discard(context.Background()); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	st := h.c.State()
	if st.Step != StepWelcome || st.ResumeOffer != nil || st.Form != DefaultFormData() {
		t.Errorf("state = %+v", st)
	}
	if h.saved(t) != nil {
		t.Error("Discard should clear the snapshot")
	}
}

func TestController_HappyPathCompletes(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.advanceTo(t, StepComplete)

	st := h.c.State()
	if !st.Completed || st.Step != StepComplete {
		t.Errorf("state = %+v", st)
	}
	if h.saved(t) != nil {
		t.Error("completion should clear saved progress")
	}
	if err := h.c.Next(context.Background()); !errors.Is(err, ErrTerminal) {
		t.Errorf("Next() on COMPLETE error = %v", err)
	}
	if err := h.c.Back(context.Background()); !errors.Is(err, ErrTerminal) {
		t.Errorf("Back() on COMPLETE error = %v", err)
	}

	if len(h.saver.updates) != 1 {
		t.Fatalf("updates = %d", len(h.saver.updates))
	}
	u := h.saver.updates[0]
	if *u.LEDIntensity != 512 || *u.AlarmMode != devicecfg.AlarmLED || *u.LEDColor != (devicecfg.RGB{R: 59, G: 130, B: 246}) {
		t.Errorf("update = %v %v %v", *u.LEDIntensity, *u.AlarmMode, *u.LEDColor)
	}
	if st.Form.Volume != 30 {
		t.Errorf("volume = %d, want 30 kept in form", st.Form.Volume)
	}

	var sawCompleted bool
	for _, ev := range h.events {
		if ev.Type == EventCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("no completed event")
	}
	want := []string{
		"Step 1 of 6: Welcome",
		"Step 2 of 6: Enter device ID",
		"Step 3 of 6: Verify device",
		"Step 4 of 6: Connect to Wi-Fi",
		"Step 5 of 6: Alarm preferences",
		"Step 6 of 6: All set",
	}
	var steps []string
	for _, a := range h.feedback.announcements {
		if len(a) > 4 && a[:4] == "Step" {
			steps = append(steps, a)
		}
	}
	if len(steps) != len(want) {
		t.Fatalf("step announcements = %v", steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("announcement %d = %q, want %q", i, steps[i], want[i])
		}
	}
}

func TestController_VerifyClaimed(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.advanceTo(t, StepVerify)
	h.claims.now["DEVICE-12345"] = claim.Result{
		DeviceID: "DEVICE-12345",
		Outcome:  claim.OutcomeAvailabilityError,
		Err:      provisioning.New("claim.validate", provisioning.CodeDeviceAlreadyClaimed, nil),
	}

	if _, err := h.c.Verify(context.Background()); err == nil {
		t.Fatal("Verify() should fail for a claimed device")
	}
	if err := h.c.Next(context.Background()); !errors.Is(err, ErrCannotProceed) {
		t.Errorf("Next() error = %v", err)
	}
}

func TestController_SubmitWiFi(t *testing.T) {
	t.Run("failure keeps the user on the step", func(t *testing.T) {
		h := newHarness(t, nil)
		h.mount(t)
		h.advanceTo(t, StepWiFi)
		h.saver.wifiErr = provisioning.New("devicecfg.save_wifi", provisioning.CodePermissionDenied, nil)

		if _, err := h.c.SubmitWiFi(context.Background(), "HomeNet", "correct-horse"); err == nil {
			t.Fatal("SubmitWiFi() should fail")
		}
		st := h.c.State()
		if st.CanProceed || st.Error == nil || st.Error.Retryable {
			t.Errorf("state = %+v", st)
		}
		if h.feedback.lastHaptic() != HapticError {
			t.Errorf("haptic = %q", h.feedback.lastHaptic())
		}
	})

	t.Run("unconfirmed connectivity still proceeds", func(t *testing.T) {
		h := newHarness(t, nil)
		h.mount(t)
		h.advanceTo(t, StepWiFi)
		h.saver.wifiRes = devicecfg.SaveResult{
			SyncStatus: devicecfg.SyncSynced,
			Warnings:   []devicecfg.Warning{{Code: devicecfg.WarnConnectivityUnconfirmed, Message: "not yet"}},
		}

		if _, err := h.c.SubmitWiFi(context.Background(), "HomeNet", "correct-horse"); err != nil {
			t.Fatal(err)
		}
		st := h.c.State()
		if !st.CanProceed || len(st.Warnings) != 1 || st.ConnectivityConfirmed {
			t.Errorf("state = %+v", st)
		}
		if h.feedback.lastHaptic() != HapticWarning {
			t.Errorf("haptic = %q, want warning", h.feedback.lastHaptic())
		}
		if p := h.saved(t); p.FormData.WiFiSSID != "HomeNet" || p.FormData.WiFiPassword != "" {
			t.Errorf("snapshot form = %+v", p.FormData)
		}
	})
}

func TestController_WrongStepCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	ctx := context.Background()

	if err := h.c.SetDeviceID(ctx, "DEVICE-12345"); !errors.Is(err, ErrWrongStep) {
		t.Errorf("SetDeviceID() on WELCOME error = %v", err)
	}
	if _, err := h.c.SubmitWiFi(ctx, "x", ""); !errors.Is(err, ErrWrongStep) {
		t.Errorf("SubmitWiFi() on WELCOME error = %v", err)
	}
	if _, err := h.c.Verify(ctx); !errors.Is(err, ErrWrongStep) {
		t.Errorf("Verify() on WELCOME error = %v", err)
	}
}

func TestController_UpdateFormDeviceIDOnlyOnItsStep(t *testing.T) {
	for _, step := range []Step{StepVerify, StepWiFi, StepPreferences} {
		t.Run(step.String(), func(t *testing.T) {
			h := newHarness(t, nil)
			h.mount(t)
			h.advanceTo(t, step)
			ctx := context.Background()
			before := h.c.State()

			err := h.c.UpdateForm(ctx, func(f *FormData) {
				f.DeviceID = "CLAIMED-999"
				f.Volume = 5
			})
			if !errors.Is(err, ErrWrongStep) {
				t.Fatalf("UpdateForm() error = %v, want %v", err, ErrWrongStep)
			}

			st := h.c.State()
			if st.Form != before.Form || st.Step != step {
				t.Errorf("state changed: form = %+v, step = %v", st.Form, st.Step)
			}
			if p := h.saved(t); p.FormData.DeviceID != "DEVICE-12345" {
				t.Errorf("snapshot device ID = %q", p.FormData.DeviceID)
			}

			if step == StepWiFi {
				if _, err := h.c.SubmitWiFi(ctx, "HomeNet", "correct-horse"); err != nil {
					t.Fatal(err)
				}
				last := h.saver.wifi[len(h.saver.wifi)-1]
				if last != "DEVICE-12345/HomeNet" {
					t.Errorf("Wi-Fi written for %q", last)
				}
			}
		})
	}

	t.Run("same ID with other fields is accepted", func(t *testing.T) {
		h := newHarness(t, nil)
		h.mount(t)
		h.advanceTo(t, StepWiFi)

		err := h.c.UpdateForm(context.Background(), func(f *FormData) {
			f.DeviceID = "DEVICE-12345"
			f.Volume = 5
		})
		if err != nil {
			t.Fatalf("UpdateForm() error = %v", err)
		}
		if got := h.c.State().Form.Volume; got != 5 {
			t.Errorf("Volume = %d, want 5", got)
		}
	})
}

func TestController_InvalidPreferences(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.advanceTo(t, StepPreferences)

	_, err := h.c.SubmitPreferences(context.Background(), devicecfg.Preferences{AlarmMode: "loud", LEDIntensity: 50, LEDColor: "#FFFFFF"}, 50)
	var verr *provisioning.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if len(h.saver.updates) != 0 {
		t.Error("invalid preferences were saved")
	}
}

// With the real validator the debounced result reaches the controller from
// the timer goroutine.
func TestController_WithValidator(t *testing.T) {
	clock := clockwork.NewFakeClock()
	validator := claim.NewValidator(&claim.MemoryRegistry{Records: map[string]claim.Record{}}, claim.WithClock(clock))
	c, err := NewController(Config{
		Claims:   validator,
		Configs:  &fakeSaver{},
		Progress: NewProgressStore(kvstore.NewMemoryStore(), clock, 0),
		Sessions: session.Static("usr-1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	validated := make(chan Event, 4)
	c.Subscribe(func(ev Event) {
		if ev.Type == EventValidation {
			validated <- ev
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Mount(ctx); err != nil {
		t.Fatal(err)
	}
	_ = c.Next(ctx)
	_ = c.SetDeviceID(ctx, "DEVICE-12345")

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for debounce timer: %v", err)
	}
	clock.Advance(claim.DefaultDebounce)

	select {
	case ev := <-validated:
		if !ev.State.CanProceed {
			t.Errorf("event state = %+v", ev.State)
		}
	case <-ctx.Done():
		t.Fatal("no validation event")
	}
	if err := c.Next(ctx); err != nil {
		t.Errorf("Next() error = %v", err)
	}
}

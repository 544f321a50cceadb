package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/nerrad567/dispenser-core/internal/app"
	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
	"github.com/nerrad567/dispenser-core/internal/session"
	"github.com/nerrad567/dispenser-core/internal/wizard"
)

// validationGrace is added to the debounce window when waiting for a
// device ID result.
const validationGrace = 10 * time.Second

var errValidationTimeout = errors.New("timed out waiting for device ID validation")

// Wizard returns the interactive setup wizard command.
func Wizard(opts *globalOptions) *cobra.Command {
	var accessible bool

	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Walk through setting up a dispenser",
		Long: `Walk through setting up a dispenser: enter and verify its device ID,
send Wi-Fi credentials and choose alarm preferences.

Progress is saved after every step under the --user identity and offered
for resuming the next time the wizard starts, here or in the companion app.
Press Ctrl+C at any prompt to leave.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			r, stop, err := newRunner(a, opts.user, huhPrompter{accessible: accessible}, out)
			if err != nil {
				return err
			}
			defer stop()

			fmt.Fprintln(out, titleStyle.Render("Dispenser setup"))
			if opts.dryRun {
				fmt.Fprintln(out, dimStyle.Render("dry run: nothing will be sent to a device"))
			}
			return r.run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&accessible, "accessible", false, "Plain prompts suitable for screen readers")

	return cmd
}

// prompter collects the user's input for each step.
type prompter interface {
	ConfirmResume(ctx context.Context, p *wizard.Progress) (bool, error)
	DeviceID(ctx context.Context, current string) (string, error)
	WiFi(ctx context.Context, currentSSID string) (ssid, password string, err error)
	Preferences(ctx context.Context, form wizard.FormData) (devicecfg.Preferences, int, error)
	Retry(ctx context.Context, message string) (bool, error)
	ConfirmExit(ctx context.Context) (bool, error)
}

// configReader reads a device's stored configuration.
type configReader interface {
	GetDeviceConfig(ctx context.Context, deviceID string) (devicecfg.DeviceConfig, error)
}

// runner drives a wizard.Controller from terminal prompts.
type runner struct {
	ctrl              *wizard.Controller
	configs           configReader
	prompt            prompter
	out               io.Writer
	validations       chan wizard.Event
	validationTimeout time.Duration
}

// newRunner builds a controller for user over the components in a. The
// returned stop func detaches it.
func newRunner(a *app.App, user string, p prompter, out io.Writer) (*runner, func(), error) {
	prov := a.Config.Provisioning

	v := claim.NewValidator(a.Claims,
		claim.WithDebounce(prov.Debounce()),
		claim.WithCache(a.ClaimCache),
		claim.WithMetrics(a.Metrics),
	)
	v.SetLogger(a.Logger)

	logger := a.Logger.With("user", user)
	store := wizard.NewProgressStore(kvstore.WithPrefix(a.KV, "user:"+user+":"), clockwork.NewRealClock(), prov.ProgressTTL())
	store.SetLogger(logger)

	feedback := &terminalFeedback{out: out}
	ctrl, err := wizard.NewController(wizard.Config{
		Claims:    v,
		Configs:   a.Configs,
		Progress:  store,
		Sessions:  session.Static(user),
		Announcer: feedback,
		Haptics:   feedback,
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}

	r := &runner{
		ctrl:              ctrl,
		configs:           a.Configs,
		prompt:            p,
		out:               out,
		validations:       make(chan wizard.Event, 4),
		validationTimeout: prov.Debounce() + validationGrace,
	}
	unsubscribe := ctrl.Subscribe(func(ev wizard.Event) {
		if ev.Type != wizard.EventValidation {
			return
		}
		select {
		case r.validations <- ev:
		default:
		}
	})

	stop := func() {
		unsubscribe()
		v.Cancel()
	}
	return r, stop, nil
}

// run mounts the wizard and steps through it until it completes or the
// user leaves.
func (r *runner) run(ctx context.Context) error {
	offer, err := r.ctrl.Mount(ctx)
	if err != nil {
		return errors.New(userMessage(err))
	}
	if offer != nil {
		resume, err := r.prompt.ConfirmResume(ctx, offer)
		if err != nil && !errors.Is(err, huh.ErrUserAborted) {
			return err
		}
		if resume {
			err = r.ctrl.Resume(ctx, nil)
		} else {
			err = r.ctrl.Discard(ctx)
		}
		if err != nil {
			return err
		}
	}

	for {
		st := r.ctrl.State()
		if st.Exited {
			fmt.Fprintln(r.out, dimStyle.Render("Setup paused. Run the wizard again to pick up where you left off."))
			return nil
		}

		var err error
		switch st.Step {
		case wizard.StepWelcome:
			err = r.ctrl.Next(ctx)
		case wizard.StepDeviceID:
			err = r.deviceID(ctx, st)
		case wizard.StepVerify:
			err = r.verify(ctx)
		case wizard.StepWiFi:
			err = r.wifi(ctx, st)
		case wizard.StepPreferences:
			err = r.preferences(ctx, st)
		case wizard.StepComplete:
			r.summary(st)
			return nil
		}

		if errors.Is(err, huh.ErrUserAborted) {
			err = r.exit(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (r *runner) deviceID(ctx context.Context, st wizard.State) error {
	id, err := r.prompt.DeviceID(ctx, st.Form.DeviceID)
	if err != nil {
		return err
	}

	r.drain()
	if err := r.ctrl.SetDeviceID(ctx, id); err != nil {
		return err
	}
	ev, err := r.awaitValidation(ctx, id)
	if err != nil {
		return err
	}
	if ev.State.Validation != claim.OutcomeOK {
		r.suggest(ev.State.Error)
		return nil
	}
	return r.ctrl.Next(ctx)
}

func (r *runner) verify(ctx context.Context) error {
	res, err := r.ctrl.Verify(ctx)
	if err == nil {
		return r.ctrl.Next(ctx)
	}
	if res.Outcome == "" {
		return err
	}
	return r.retryOrBack(ctx, err)
}

func (r *runner) wifi(ctx context.Context, st wizard.State) error {
	ssid, password, err := r.prompt.WiFi(ctx, st.Form.WiFiSSID)
	if err != nil {
		return err
	}
	res, err := r.ctrl.SubmitWiFi(ctx, ssid, password)
	if err != nil {
		return r.retryOrBack(ctx, err)
	}
	r.saved("Wi-Fi", res)
	return r.ctrl.Next(ctx)
}

func (r *runner) preferences(ctx context.Context, st wizard.State) error {
	prefs, volume, err := r.prompt.Preferences(ctx, r.prefill(ctx, st.Form))
	if err != nil {
		return err
	}
	res, err := r.ctrl.SubmitPreferences(ctx, prefs, volume)
	if err != nil {
		return r.retryOrBack(ctx, err)
	}
	r.saved("Preferences", res)
	return r.ctrl.Next(ctx)
}

// prefill replaces untouched preferences with the device's stored ones, so
// reprovisioning a device starts from its current settings.
func (r *runner) prefill(ctx context.Context, form wizard.FormData) wizard.FormData {
	if form.Preferences() != wizard.DefaultFormData().Preferences() {
		return form
	}
	cfg, err := r.configs.GetDeviceConfig(ctx, form.DeviceID)
	if err != nil || !cfg.Found {
		return form
	}
	p := cfg.Preferences()
	form.AlarmMode = p.AlarmMode
	form.LEDIntensity = p.LEDIntensity
	form.LEDColor = p.LEDColor
	return form
}

// retryOrBack offers another attempt at a failed step. Declining goes back
// one step. Controller state errors are returned unchanged.
func (r *runner) retryOrBack(ctx context.Context, err error) error {
	var ue provisioning.UserError
	if !errors.As(err, &ue) {
		return err
	}
	r.suggest(r.ctrl.State().Error)

	again, perr := r.prompt.Retry(ctx, ue.UserMessage())
	if perr != nil {
		return perr
	}
	if again {
		return nil
	}
	return r.ctrl.Back(ctx)
}

// exit asks to leave. A clean form leaves at once; otherwise the user
// confirms, and an abort while confirming also leaves.
func (r *runner) exit(ctx context.Context) error {
	confirmRequired, err := r.ctrl.RequestExit()
	if err != nil || !confirmRequired {
		return err
	}
	leave, err := r.prompt.ConfirmExit(ctx)
	if err != nil || leave {
		return r.ctrl.ConfirmExit()
	}
	r.ctrl.CancelExit()
	return nil
}

// awaitValidation waits for the validation result of id.
func (r *runner) awaitValidation(ctx context.Context, id string) (wizard.Event, error) {
	timer := time.NewTimer(r.validationTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return wizard.Event{}, ctx.Err()
		case <-timer.C:
			return wizard.Event{}, errValidationTimeout
		case ev := <-r.validations:
			if ev.State.Form.DeviceID == id {
				return ev, nil
			}
		}
	}
}

// drain discards validation events left over from earlier requests.
func (r *runner) drain() {
	for {
		select {
		case <-r.validations:
		default:
			return
		}
	}
}

func (r *runner) suggest(info *wizard.ErrorInfo) {
	if info != nil && info.SuggestedAction != "" {
		fmt.Fprintln(r.out, dimStyle.Render("  "+info.SuggestedAction))
	}
}

func (r *runner) saved(what string, res devicecfg.SaveResult) {
	if len(res.Warnings) > 0 {
		return
	}
	fmt.Fprintf(r.out, "%s %s saved\n", okStyle.Render("✓"), what)
}

func (r *runner) summary(st wizard.State) {
	f := st.Form
	fmt.Fprintln(r.out, titleStyle.Render("Setup complete"))
	fmt.Fprintf(r.out, "  device:  %s\n", f.DeviceID)
	fmt.Fprintf(r.out, "  wi-fi:   %s\n", f.WiFiSSID)
	fmt.Fprintf(r.out, "  alarm:   %s\n", f.AlarmMode)
	fmt.Fprintf(r.out, "  led:     %d%% %s\n", f.LEDIntensity, f.LEDColor)
	if !st.ConnectivityConfirmed {
		fmt.Fprintln(r.out, warningStyle.Render("  the dispenser has not reported a network connection yet"))
	}
}

// terminalFeedback prints announcements and rings the bell for warning and
// error haptics. Announcements may arrive from validation goroutines.
type terminalFeedback struct {
	mu  sync.Mutex
	out io.Writer
}

func (f *terminalFeedback) Announce(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.out, "%s %s\n", stepStyle.Render("»"), message)
}

func (f *terminalFeedback) Emit(kind wizard.Haptic) {
	if kind != wizard.HapticError && kind != wizard.HapticWarning {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprint(f.out, "\a")
}

package wizard

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/metrics"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
	"github.com/nerrad567/dispenser-core/internal/session"
)

// Controller errors.
var (
	ErrCannotProceed    = errors.New("wizard: current step is not complete")
	ErrFirstStep        = errors.New("wizard: already at the first step")
	ErrTerminal         = errors.New("wizard: wizard is complete")
	ErrWrongStep        = errors.New("wizard: command not available in the current step")
	ErrExited           = errors.New("wizard: wizard has exited")
	ErrDecisionPending  = errors.New("wizard: resume or discard the saved progress first")
	ErrNoProgress       = errors.New("wizard: no saved progress to resume")
	ErrInvalidProgress  = errors.New("wizard: saved progress is invalid")
	ErrNoExitRequested  = errors.New("wizard: no exit is awaiting confirmation")
	ErrMissingComponent = errors.New("wizard: controller is missing a dependency")
)

// ClaimChecker validates device IDs. *claim.Validator implements it.
type ClaimChecker interface {
	Request(ctx context.Context, deviceID string) uint64
	ValidateNow(ctx context.Context, deviceID string) claim.Result
	OnResult(fn func(claim.Result))
	Cancel()
}

// ConfigSaver writes device configuration. *devicecfg.Service implements it.
type ConfigSaver interface {
	SaveWiFiConfig(ctx context.Context, deviceID, ssid, password string) (devicecfg.SaveResult, error)
	SaveDeviceConfig(ctx context.Context, deviceID string, u devicecfg.Update) (devicecfg.SaveResult, error)
}

// ErrorInfo is the user-facing form of a step failure.
type ErrorInfo struct {
	Code            provisioning.Code `json:"code"`
	Field           string            `json:"field,omitempty"`
	Message         string            `json:"message"`
	Retryable       bool              `json:"retryable"`
	SuggestedAction string            `json:"suggestedAction,omitempty"`
}

func errorInfo(err error) *ErrorInfo {
	code := provisioning.CodeFor(err)
	b := provisioning.Describe(code)
	info := &ErrorInfo{
		Code:            code,
		Message:         b.UserMessage,
		Retryable:       b.Retryable,
		SuggestedAction: b.SuggestedAction,
	}
	var ue provisioning.UserError
	if errors.As(err, &ue) {
		info.Message = ue.UserMessage()
		info.Retryable = ue.Retryable()
	}
	var ve *provisioning.ValidationError
	if errors.As(err, &ve) {
		info.Field = ve.Field
	}
	return info
}

// State is a snapshot of the controller for rendering.
type State struct {
	Step                  Step                `json:"-"`
	StepName              string              `json:"step"`
	Index                 int                 `json:"index"`
	Total                 int                 `json:"total"`
	Label                 string              `json:"label"`
	CanProceed            bool                `json:"canProceed"`
	Form                  FormData            `json:"form"`
	Validation            claim.Outcome       `json:"validation,omitempty"`
	ResumeOffer           *Progress           `json:"resumeOffer,omitempty"`
	ExitPending           bool                `json:"exitPending"`
	Exited                bool                `json:"exited"`
	Completed             bool                `json:"completed"`
	ConnectivityConfirmed bool                `json:"connectivityConfirmed"`
	Error                 *ErrorInfo          `json:"error,omitempty"`
	Warnings              []devicecfg.Warning `json:"warnings,omitempty"`
}

// Config holds the controller's collaborators. Claims, Configs, Progress
// and Sessions are required.
type Config struct {
	Claims    ClaimChecker
	Configs   ConfigSaver
	Progress  *ProgressStore
	Sessions  session.Provider
	Announcer Announcer
	Haptics   HapticEmitter
	Metrics   *metrics.Recorder
	Logger    Logger
}

// Controller is the wizard state machine. Commands are serialised; results
// from the claim validator may arrive on other goroutines and are applied
// only while the device ID step is active and the ID still matches.
type Controller struct {
	claims    ClaimChecker
	configs   ConfigSaver
	progress  *ProgressStore
	sessions  session.Provider
	announcer Announcer
	haptics   HapticEmitter
	metrics   *metrics.Recorder
	logger    Logger

	// opMu serialises commands. mu guards the fields below it.
	opMu sync.Mutex

	mu          sync.Mutex
	owner       string
	step        Step
	canProceed  bool
	form        FormData
	validation  claim.Outcome
	offer       *Progress
	exitPending bool
	exited      bool
	completed   bool
	connected   bool
	lastErr     *ErrorInfo
	warnings    []devicecfg.Warning

	listenerMu sync.Mutex
	nextID     int
	listeners  map[int]func(Event)
}

// NewController creates a controller at the welcome step.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Claims == nil || cfg.Configs == nil || cfg.Progress == nil || cfg.Sessions == nil {
		return nil, ErrMissingComponent
	}
	c := &Controller{
		claims:     cfg.Claims,
		configs:    cfg.Configs,
		progress:   cfg.Progress,
		sessions:   cfg.Sessions,
		announcer:  cfg.Announcer,
		haptics:    cfg.Haptics,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		step:       StepWelcome,
		canProceed: true,
		form:       DefaultFormData(),
		listeners:  make(map[int]func(Event)),
	}
	if c.announcer == nil {
		c.announcer = noopFeedback{}
	}
	if c.haptics == nil {
		c.haptics = noopFeedback{}
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	c.claims.OnResult(c.onClaimResult)
	return c, nil
}

// Subscribe registers fn for every event and returns a function that
// removes it.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners, id)
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{
		Step:                  c.step,
		StepName:              c.step.String(),
		Index:                 int(c.step),
		Total:                 TotalSteps,
		Label:                 c.step.Label(),
		CanProceed:            c.canProceed,
		Form:                  c.form,
		Validation:            c.validation,
		ExitPending:           c.exitPending,
		Exited:                c.exited,
		Completed:             c.completed,
		ConnectivityConfirmed: c.connected,
		Warnings:              append([]devicecfg.Warning(nil), c.warnings...),
	}
	if c.offer != nil {
		offer := *c.offer
		st.ResumeOffer = &offer
	}
	if c.lastErr != nil {
		e := *c.lastErr
		st.Error = &e
	}
	return st
}

func (c *Controller) emit(typ EventType, message string, haptic Haptic) {
	if haptic != "" {
		c.haptics.Emit(haptic)
	}

	st := c.State()
	ev := Event{Type: typ, Step: st.StepName, Message: message, Haptic: haptic, State: st}

	c.listenerMu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Mount binds the controller to the current user and looks for saved
// progress. A valid snapshot is returned and offered, never resumed; the
// caller must answer with Resume or Discard.
func (c *Controller) Mount(ctx context.Context) (*Progress, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	user, ok := c.sessions.CurrentUser(ctx)
	if !ok {
		return nil, provisioning.Wrap("wizard.mount", provisioning.ErrNotAuthenticated)
	}

	c.mu.Lock()
	c.owner = user
	c.mu.Unlock()

	p, err := c.progress.Restore(ctx, user)
	if err != nil {
		c.logger.Warn("restoring wizard progress failed", "error", err)
	}
	if p == nil {
		c.enter(ctx, StepWelcome, false)
		return nil, nil //nolint:nilnil // nothing to resume
	}

	c.mu.Lock()
	c.offer = p
	c.mu.Unlock()
	c.emit(EventResumeOffered, "You have an unfinished setup. Resume where you left off?", "")
	return p, nil
}

// Resume jumps to the saved step with the saved form. A nil p resumes the
// snapshot offered by Mount.
func (c *Controller) Resume(ctx context.Context, p *Progress) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if p == nil {
		p = c.offer
	}
	if p == nil {
		c.mu.Unlock()
		return ErrNoProgress
	}
	step := Step(p.CurrentStepIndex)
	if !step.Valid() {
		c.mu.Unlock()
		return ErrInvalidProgress
	}
	c.offer = nil
	c.form = p.FormData
	c.exited = false
	c.mu.Unlock()

	c.enter(ctx, step, true)
	return nil
}

// Discard clears saved progress and starts over at the welcome step.
func (c *Controller) Discard(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.progress.Clear(ctx); err != nil {
		return err
	}
	c.claims.Cancel()

	c.mu.Lock()
	c.offer = nil
	c.form = DefaultFormData()
	c.exited = false
	c.completed = false
	c.mu.Unlock()

	c.enter(ctx, StepWelcome, false)
	return nil
}

// guardLocked checks the conditions shared by every command.
func (c *Controller) guardLocked() error {
	switch {
	case c.exited:
		return ErrExited
	case c.offer != nil:
		return ErrDecisionPending
	}
	return nil
}

// Next advances one step if the current step allows it.
func (c *Controller) Next(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	from := c.step
	switch {
	case from.Terminal():
		c.mu.Unlock()
		return ErrTerminal
	case !c.canProceed:
		c.mu.Unlock()
		c.haptics.Emit(HapticError)
		return ErrCannotProceed
	}
	c.mu.Unlock()

	if from == StepDeviceID {
		c.claims.Cancel()
	}
	c.enter(ctx, from+1, true)
	return nil
}

// Back returns to the previous step. It is refused on the welcome step and
// once the wizard is complete.
func (c *Controller) Back(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.back(ctx)
}

func (c *Controller) back(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	from := c.step
	c.mu.Unlock()

	switch {
	case from == StepWelcome:
		return ErrFirstStep
	case from.Terminal():
		return ErrTerminal
	}

	if from == StepDeviceID {
		c.claims.Cancel()
	}
	c.haptics.Emit(HapticSelection)
	c.enter(ctx, from-1, true)
	return nil
}

// HandleBackGesture routes the platform back gesture. It goes back one step,
// or on the welcome step asks to exit. exitRequested reports the latter,
// with confirmRequired set when the form has unsaved input.
func (c *Controller) HandleBackGesture(ctx context.Context) (exitRequested, confirmRequired bool, err error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	atWelcome := c.step == StepWelcome
	c.mu.Unlock()

	if atWelcome {
		confirm, err := c.requestExit()
		return true, confirm, err
	}
	return false, false, c.back(ctx)
}

// RequestExit asks to leave the wizard. When the form differs from its
// defaults the exit waits for ConfirmExit and confirmRequired is true.
func (c *Controller) RequestExit() (confirmRequired bool, err error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.requestExit()
}

func (c *Controller) requestExit() (bool, error) {
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return false, ErrExited
	}
	dirty := c.form != DefaultFormData()
	if dirty {
		c.exitPending = true
	} else {
		c.exited = true
	}
	c.mu.Unlock()

	if dirty {
		c.emit(EventExitConfirm, "You have unsaved changes. Leave setup anyway?", HapticWarning)
		return true, nil
	}
	c.emit(EventExited, "", "")
	return false, nil
}

// ConfirmExit completes a pending exit. Saved progress is kept for resuming.
func (c *Controller) ConfirmExit() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.exitPending {
		c.mu.Unlock()
		return ErrNoExitRequested
	}
	c.exitPending = false
	c.exited = true
	c.mu.Unlock()

	c.claims.Cancel()
	c.emit(EventExited, "", "")
	return nil
}

// CancelExit withdraws a pending exit.
func (c *Controller) CancelExit() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.exitPending = false
	c.mu.Unlock()
}

// UpdateForm applies fn to the form and saves a snapshot. Changing the
// device ID on the device ID step starts a new validation; on any other
// step it is refused with ErrWrongStep and the form is left unchanged.
func (c *Controller) UpdateForm(ctx context.Context, fn func(*FormData)) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	form := c.form
	fn(&form)
	changed := form.DeviceID != c.form.DeviceID
	if changed && c.step != StepDeviceID {
		c.mu.Unlock()
		return ErrWrongStep
	}
	c.form = form
	revalidate := changed
	if revalidate {
		c.canProceed = false
		c.validation = claim.OutcomePending
		c.lastErr = nil
	}
	deviceID := c.form.DeviceID
	c.mu.Unlock()

	c.persist(ctx)
	if revalidate {
		c.claims.Request(context.WithoutCancel(ctx), deviceID)
	}
	return nil
}

// SetDeviceID records the device ID and schedules its debounced validation.
// The step may proceed once an ok result for this ID arrives.
func (c *Controller) SetDeviceID(ctx context.Context, deviceID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.stepGuardLocked(StepDeviceID); err != nil {
		c.mu.Unlock()
		return err
	}
	c.form.DeviceID = deviceID
	c.canProceed = false
	c.validation = claim.OutcomePending
	c.lastErr = nil
	c.mu.Unlock()

	c.persist(ctx)
	c.claims.Request(context.WithoutCancel(ctx), deviceID)
	return nil
}

func (c *Controller) stepGuardLocked(step Step) error {
	if err := c.guardLocked(); err != nil {
		return err
	}
	if c.step != step {
		return ErrWrongStep
	}
	return nil
}

func (c *Controller) onClaimResult(res claim.Result) {
	c.mu.Lock()
	if c.step != StepDeviceID || res.DeviceID != c.form.DeviceID {
		c.mu.Unlock()
		return
	}
	c.validation = res.Outcome
	c.canProceed = res.OK()
	c.lastErr = nil
	if res.Err != nil {
		c.lastErr = errorInfo(res.Err)
	}
	c.mu.Unlock()

	haptic := HapticSuccess
	msg := "Device ID is available"
	if !res.OK() {
		haptic = HapticError
		msg = errorInfo(res.Err).Message
	}
	c.announcer.Announce(msg)
	c.emit(EventValidation, msg, haptic)
}

// Verify re-checks the device ID without debouncing. The step may proceed
// when the device is still available.
func (c *Controller) Verify(ctx context.Context) (claim.Result, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.stepGuardLocked(StepVerify); err != nil {
		c.mu.Unlock()
		return claim.Result{}, err
	}
	deviceID := c.form.DeviceID
	c.mu.Unlock()

	res := c.claims.ValidateNow(ctx, deviceID)

	c.mu.Lock()
	c.validation = res.Outcome
	c.canProceed = res.OK()
	c.lastErr = nil
	if res.Err != nil {
		c.lastErr = errorInfo(res.Err)
	}
	c.mu.Unlock()

	if res.OK() {
		c.emit(EventValidation, "Device verified", HapticSuccess)
		return res, nil
	}
	c.emit(EventError, errorInfo(res.Err).Message, HapticError)
	return res, res.Err
}

// SubmitWiFi saves the network credentials for the device. A save that
// reached the durable store lets the step proceed even when the device has
// not confirmed the connection yet.
func (c *Controller) SubmitWiFi(ctx context.Context, ssid, password string) (devicecfg.SaveResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.stepGuardLocked(StepWiFi); err != nil {
		c.mu.Unlock()
		return devicecfg.SaveResult{}, err
	}
	c.form.WiFiSSID = ssid
	c.form.WiFiPassword = password
	c.canProceed = false
	deviceID := c.form.DeviceID
	c.mu.Unlock()

	c.persist(ctx)
	res, err := c.configs.SaveWiFiConfig(ctx, deviceID, ssid, password)
	c.applySave(res, err)
	if err == nil {
		c.mu.Lock()
		c.connected = res.ConnectivityConfirmed
		c.mu.Unlock()
	}
	return res, err
}

// SubmitPreferences converts the wizard preferences to device scale and
// saves them. volume is kept in the form only.
func (c *Controller) SubmitPreferences(ctx context.Context, prefs devicecfg.Preferences, volume int) (devicecfg.SaveResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.stepGuardLocked(StepPreferences); err != nil {
		c.mu.Unlock()
		return devicecfg.SaveResult{}, err
	}
	c.form.AlarmMode = prefs.AlarmMode
	c.form.LEDIntensity = prefs.LEDIntensity
	c.form.LEDColor = prefs.LEDColor
	c.form.Volume = volume
	c.canProceed = false
	deviceID := c.form.DeviceID
	c.mu.Unlock()

	c.persist(ctx)

	u, err := prefs.Update()
	if err != nil {
		err = &provisioning.ValidationError{Field: "preferences", Message: err.Error()}
		c.applySave(devicecfg.SaveResult{}, err)
		return devicecfg.SaveResult{}, err
	}
	res, err := c.configs.SaveDeviceConfig(ctx, deviceID, u)
	c.applySave(res, err)
	return res, err
}

func (c *Controller) applySave(res devicecfg.SaveResult, err error) {
	c.mu.Lock()
	if err != nil {
		c.lastErr = errorInfo(err)
		c.warnings = nil
		c.canProceed = false
	} else {
		c.lastErr = nil
		c.warnings = res.Warnings
		c.canProceed = true
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		msg := errorInfo(err).Message
		c.announcer.Announce(msg)
		c.emit(EventError, msg, HapticError)
	case len(res.Warnings) > 0:
		c.announcer.Announce(res.Warnings[0].Message)
		c.emit(EventSaveResult, res.Warnings[0].Message, HapticWarning)
	default:
		c.emit(EventSaveResult, "Saved", HapticSuccess)
	}
}

// enter makes to the current step: it resets the proceed flag, snapshots
// the form when persist is set and announces the step. WELCOME has nothing
// to gate, so it starts open; every other step starts closed.
func (c *Controller) enter(ctx context.Context, to Step, persist bool) {
	c.mu.Lock()
	c.step = to
	c.canProceed = to == StepWelcome
	c.validation = ""
	c.lastErr = nil
	c.warnings = nil
	c.exitPending = false
	deviceID := c.form.DeviceID
	c.mu.Unlock()

	if persist {
		c.persist(ctx)
	}
	c.metrics.IncWizardTransition(to.String())

	msg := StepAnnouncement(to)
	c.announcer.Announce(msg)
	c.emit(EventStepChanged, msg, "")

	switch to {
	case StepDeviceID:
		if deviceID != "" {
			c.mu.Lock()
			c.validation = claim.OutcomePending
			c.mu.Unlock()
			c.claims.Request(context.WithoutCancel(ctx), deviceID)
		}
	case StepComplete:
		c.complete(ctx)
	}
}

// complete clears saved progress once the final step is reached.
func (c *Controller) complete(ctx context.Context) {
	if err := c.progress.Clear(ctx); err != nil {
		c.logger.Warn("clearing wizard progress failed", "error", err)
	}

	c.mu.Lock()
	c.completed = true
	deviceID := c.form.DeviceID
	c.mu.Unlock()

	c.logger.Info("provisioning wizard completed", "device", logging.RedactID(deviceID))
	c.emit(EventCompleted, "Your dispenser is ready", HapticSuccess)
}

// persist snapshots the current step and form for the owning user.
func (c *Controller) persist(ctx context.Context) {
	c.mu.Lock()
	owner := c.owner
	p := Progress{
		CurrentStepIndex: int(c.step),
		TotalSteps:       TotalSteps,
		FormData:         c.form,
	}
	c.mu.Unlock()

	if owner == "" {
		user, ok := c.sessions.CurrentUser(ctx)
		if !ok {
			c.logger.Debug("no session, wizard progress not saved")
			return
		}
		owner = user
	}
	p.OwnerUserID = owner

	if err := c.progress.Save(ctx, p); err != nil {
		c.logger.Warn("saving wizard progress failed", "step", Step(p.CurrentStepIndex).String(), "error", err)
	}
}

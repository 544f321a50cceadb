package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/session"
	"github.com/nerrad567/dispenser-core/internal/wizard"
)

// wizardFormPatch is the body of PATCH /wizard/form. Absent fields are kept.
type wizardFormPatch struct {
	DeviceID     *string                `json:"deviceId"`
	WiFiSSID     *string                `json:"wifiSSID"`
	AlarmMode    *devicecfg.UIAlarmMode `json:"alarmMode"`
	LEDIntensity *int                   `json:"ledIntensity"`
	LEDColor     *string                `json:"ledColor"`
	Volume       *int                   `json:"volume"`
}

func (p wizardFormPatch) apply(f *wizard.FormData) {
	if p.DeviceID != nil {
		f.DeviceID = *p.DeviceID
	}
	if p.WiFiSSID != nil {
		f.WiFiSSID = *p.WiFiSSID
	}
	if p.AlarmMode != nil {
		f.AlarmMode = *p.AlarmMode
	}
	if p.LEDIntensity != nil {
		f.LEDIntensity = *p.LEDIntensity
	}
	if p.LEDColor != nil {
		f.LEDColor = *p.LEDColor
	}
	if p.Volume != nil {
		f.Volume = *p.Volume
	}
}

type deviceIDRequest struct {
	DeviceID string `json:"deviceId"`
}

type wifiRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

type preferencesRequest struct {
	devicecfg.Preferences
	Volume int `json:"volume"`
}

// saveResponse pairs a save outcome with the wizard state after it.
type saveResponse struct {
	Result devicecfg.SaveResult `json:"result"`
	State  wizard.State         `json:"state"`
}

// wizardFor resolves the caller's controller.
func (s *Server) wizardFor(w http.ResponseWriter, r *http.Request) (*wizard.Controller, bool) {
	userID, ok := session.UserFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "no session")
		return nil, false
	}
	ctrl, err := s.wizards.get(userID)
	if err != nil {
		s.logger.Error("creating wizard session failed", "error", err)
		writeInternalError(w, "wizard unavailable")
		return nil, false
	}
	return ctrl, true
}

// decodeBody decodes the JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// wizardCommand runs a command that only reports an error, then writes the
// resulting state.
func (s *Server) wizardCommand(fn func(*wizard.Controller, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := s.wizardFor(w, r)
		if !ok {
			return
		}
		if err := fn(ctrl, r); err != nil {
			writeWizardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.State())
	}
}

func (s *Server) handleWizardState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.wizardFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

// handleWizardMount binds the wizard to the caller. Saved progress comes
// back as state.resumeOffer and must be answered with resume or discard.
func (s *Server) handleWizardMount(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		_, err := c.Mount(r.Context())
		return err
	})(w, r)
}

func (s *Server) handleWizardResume(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		return c.Resume(r.Context(), nil)
	})(w, r)
}

func (s *Server) handleWizardDiscard(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		return c.Discard(r.Context())
	})(w, r)
}

func (s *Server) handleWizardNext(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		return c.Next(r.Context())
	})(w, r)
}

func (s *Server) handleWizardBack(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		return c.Back(r.Context())
	})(w, r)
}

func (s *Server) handleWizardBackGesture(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.wizardFor(w, r)
	if !ok {
		return
	}
	exitRequested, confirmRequired, err := ctrl.HandleBackGesture(r.Context())
	if err != nil {
		writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exitRequested":   exitRequested,
		"confirmRequired": confirmRequired,
		"state":           ctrl.State(),
	})
}

func (s *Server) handleWizardExit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.wizardFor(w, r)
	if !ok {
		return
	}
	confirmRequired, err := ctrl.RequestExit()
	if err != nil {
		writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"confirmRequired": confirmRequired,
		"state":           ctrl.State(),
	})
}

func (s *Server) handleWizardConfirmExit(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, _ *http.Request) error {
		return c.ConfirmExit()
	})(w, r)
}

func (s *Server) handleWizardCancelExit(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, _ *http.Request) error {
		c.CancelExit()
		return nil
	})(w, r)
}

func (s *Server) handleWizardUpdateForm(w http.ResponseWriter, r *http.Request) {
	var patch wizardFormPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		return c.UpdateForm(r.Context(), patch.apply)
	})(w, r)
}

// handleWizardDeviceID records the device ID. Validation is debounced; the
// result arrives as a wizard.validation websocket event.
func (s *Server) handleWizardDeviceID(w http.ResponseWriter, r *http.Request) {
	var req deviceIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		return c.SetDeviceID(r.Context(), req.DeviceID)
	})(w, r)
}

func (s *Server) handleWizardVerify(w http.ResponseWriter, r *http.Request) {
	s.wizardCommand(func(c *wizard.Controller, r *http.Request) error {
		_, err := c.Verify(r.Context())
		return err
	})(w, r)
}

func (s *Server) handleWizardWiFi(w http.ResponseWriter, r *http.Request) {
	var req wifiRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctrl, ok := s.wizardFor(w, r)
	if !ok {
		return
	}
	res, err := ctrl.SubmitWiFi(r.Context(), req.SSID, req.Password)
	if err != nil {
		writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{Result: res, State: ctrl.State()})
}

func (s *Server) handleWizardPreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctrl, ok := s.wizardFor(w, r)
	if !ok {
		return
	}
	res, err := ctrl.SubmitPreferences(r.Context(), req.Preferences, req.Volume)
	if err != nil {
		writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{Result: res, State: ctrl.State()})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// EventDeviceConfigSaved goes to websocket connections watching the device.
const EventDeviceConfigSaved = "device.config_saved"

// deviceConfigPatch is the body of PATCH /devices/{id}/config, in device
// scale. Absent fields are left untouched.
type deviceConfigPatch struct {
	AlarmMode    *devicecfg.AlarmMode `json:"alarmMode"`
	LEDIntensity *int                 `json:"ledIntensity"`
	LEDColor     *string              `json:"ledColor"`
}

func (p deviceConfigPatch) update() (devicecfg.Update, error) {
	u := devicecfg.Update{
		AlarmMode:    p.AlarmMode,
		LEDIntensity: p.LEDIntensity,
	}
	if p.LEDColor != nil {
		rgb, err := devicecfg.ParseHex(*p.LEDColor)
		if err != nil {
			return devicecfg.Update{}, &provisioning.ValidationError{Field: "ledColor", Message: err.Error()}
		}
		u.LEDColor = &rgb
	}
	return u, nil
}

// availabilityResponse is the body of GET /devices/{id}/availability.
type availabilityResponse struct {
	DeviceID  string        `json:"deviceId"`
	Available bool          `json:"available"`
	Outcome   claim.Outcome `json:"outcome"`
	Cached    bool          `json:"cached"`
	Error     *Error        `json:"error,omitempty"`
}

// handleDeviceAvailability checks a device ID without debouncing. The
// answer is always 200; an unavailable device is described in the body.
func (s *Server) handleDeviceAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := s.wizards.newValidator().ValidateNow(r.Context(), id)

	body := availabilityResponse{
		DeviceID:  id,
		Available: res.OK(),
		Outcome:   res.Outcome,
		Cached:    res.Cached,
	}
	if res.Err != nil {
		code := provisioning.CodeFor(res.Err)
		bundle := provisioning.Describe(code)
		body.Error = &Error{
			Status:          kindStatus[provisioning.KindOf(code)],
			Code:            string(code),
			Message:         bundle.UserMessage,
			Retryable:       provisioning.IsRetryable(res.Err),
			SuggestedAction: bundle.SuggestedAction,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetDeviceConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.GetDeviceConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateDeviceConfig saves a partial behaviour update. A save whose
// real-time write failed is still a 200 with partial set and a warning.
func (s *Server) handleUpdateDeviceConfig(w http.ResponseWriter, r *http.Request) {
	var patch deviceConfigPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	u, err := patch.update()
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	res, err := s.configs.SaveDeviceConfig(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	s.hub.NotifyDevice(res.DeviceID, EventDeviceConfigSaved, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSaveDeviceWiFi(w http.ResponseWriter, r *http.Request) {
	var req wifiRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.configs.SaveWiFiConfig(r.Context(), chi.URLParam(r, "id"), req.SSID, req.Password)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	s.hub.NotifyDevice(res.DeviceID, EventDeviceConfigSaved, res)
	writeJSON(w, http.StatusOK, res)
}

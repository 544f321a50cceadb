package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/dispenser-core/internal/provisioning"
	"github.com/nerrad567/dispenser-core/internal/wizard"
)

// Error represents a structured error response.
type Error struct {
	Status          int    `json:"status"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	Field           string `json:"field,omitempty"`
	Retryable       bool   `json:"retryable"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// Common error codes. Provisioning failures use the provisioning code set.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// kindStatus maps provisioning error kinds to HTTP statuses.
var kindStatus = map[provisioning.Kind]int{
	provisioning.KindValidation: http.StatusBadRequest,
	provisioning.KindConflict:   http.StatusConflict,
	provisioning.KindPermission: http.StatusForbidden,
	provisioning.KindTransient:  http.StatusServiceUnavailable,
	provisioning.KindUnknown:    http.StatusInternalServerError,
}

// writeProvisioningError classifies err and writes its user-facing bundle.
func writeProvisioningError(w http.ResponseWriter, err error) {
	code := provisioning.CodeFor(err)
	bundle := provisioning.Describe(code)
	body := Error{
		Status:          kindStatus[provisioning.KindOf(code)],
		Code:            string(code),
		Message:         bundle.UserMessage,
		Retryable:       bundle.Retryable,
		SuggestedAction: bundle.SuggestedAction,
	}

	var ue provisioning.UserError
	if errors.As(err, &ue) {
		body.Message = ue.UserMessage()
		body.Retryable = ue.Retryable()
	}
	var ve *provisioning.ValidationError
	if errors.As(err, &ve) {
		body.Status = http.StatusBadRequest
		body.Field = ve.Field
	}
	if body.Status == 0 {
		body.Status = http.StatusInternalServerError
	}
	writeJSON(w, body.Status, body)
}

// wizardErrorCodes maps controller state errors to response codes.
var wizardErrorCodes = map[error]string{
	wizard.ErrCannotProceed:   "cannot_proceed",
	wizard.ErrFirstStep:       "first_step",
	wizard.ErrTerminal:        "wizard_complete",
	wizard.ErrWrongStep:       "wrong_step",
	wizard.ErrExited:          "wizard_exited",
	wizard.ErrDecisionPending: "decision_pending",
	wizard.ErrInvalidProgress: "invalid_progress",
	wizard.ErrNoExitRequested: "no_exit_requested",
}

// writeWizardError writes a controller error. State errors are conflicts;
// anything else is a provisioning failure.
func writeWizardError(w http.ResponseWriter, err error) {
	if errors.Is(err, wizard.ErrNoProgress) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no saved progress to resume")
		return
	}
	for target, code := range wizardErrorCodes {
		if errors.Is(err, target) {
			writeError(w, http.StatusConflict, code, err.Error())
			return
		}
	}
	writeProvisioningError(w, err)
}

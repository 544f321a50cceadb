package provisioning

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when an operation requires a session and
// none is active. Operations fail closed on it.
var ErrNotAuthenticated = errors.New("provisioning: no authenticated session")

// Code is the closed set of provisioning failure codes surfaced to users.
type Code string

// Provisioning error codes.
const (
	CodeDeviceNotFound       Code = "DEVICE_NOT_FOUND"
	CodeDeviceAlreadyClaimed Code = "DEVICE_ALREADY_CLAIMED"
	CodeInvalidDeviceID      Code = "INVALID_DEVICE_ID"
	CodeWiFiConfigFailed     Code = "WIFI_CONFIG_FAILED"
	CodeDeviceOffline        Code = "DEVICE_OFFLINE"
	CodePermissionDenied     Code = "PERMISSION_DENIED"
	CodeUnknown              Code = "UNKNOWN"
)

// Kind groups codes by how callers should react to them.
type Kind string

// Error kinds.
const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindPermission Kind = "permission"
	KindConflict   Kind = "conflict"
	KindUnknown    Kind = "unknown"
)

// KindOf returns the kind a code belongs to.
func KindOf(code Code) Kind {
	switch code {
	case CodeInvalidDeviceID:
		return KindValidation
	case CodeDeviceAlreadyClaimed:
		return KindConflict
	case CodePermissionDenied:
		return KindPermission
	case CodeDeviceOffline, CodeWiFiConfigFailed, CodeDeviceNotFound:
		return KindTransient
	default:
		return KindUnknown
	}
}

// UserError is implemented by errors that can be shown to a user as-is.
type UserError interface {
	error
	UserMessage() string
	Retryable() bool
}

// Error is a classified provisioning failure.
type Error struct {
	Code    Code
	Kind    Kind
	Op      string // operation that failed, e.g. "devicecfg.save"
	Message string // user-facing message
	Retry   bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the message to display.
func (e *Error) UserMessage() string { return e.Message }

// Retryable reports whether the UI should offer a retry action.
func (e *Error) Retryable() bool { return e.Retry }

// New builds an Error for code with the code's bundle applied.
func New(op string, code Code, cause error) *Error {
	b := Describe(code)
	return &Error{
		Code:    code,
		Kind:    KindOf(code),
		Op:      op,
		Message: b.UserMessage,
		Retry:   b.Retryable,
		Err:     cause,
	}
}

// Wrap classifies err and returns it as an *Error. Errors that already carry a
// classification are returned with their code preserved. Wrap returns nil for
// a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return New(op, Classify(err), err)
}

// ValidationError reports a malformed local input. It is never retryable:
// the user has to change the input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UserMessage returns the field message.
func (e *ValidationError) UserMessage() string { return e.Message }

// Retryable is always false.
func (e *ValidationError) Retryable() bool { return false }

// CodeFor reports the provisioning code of any error: the code of an *Error,
// the classification of a *ValidationError, otherwise Classify(err).
func CodeFor(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return Classify(err)
}

// IsRetryable reports whether err should be offered for retry. Errors that do
// not implement UserError fall back to their classified bundle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ue UserError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return Describe(Classify(err)).Retryable
}

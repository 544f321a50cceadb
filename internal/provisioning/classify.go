package provisioning

import (
	"context"
	"errors"
	"strings"
)

// codeTable maps transport codes to provisioning codes. Checked first.
var codeTable = map[TransportCode]Code{
	TransportNotFound:           CodeDeviceNotFound,
	TransportPermissionDenied:   CodePermissionDenied,
	TransportUnavailable:        CodeDeviceOffline,
	TransportTimeout:            CodeDeviceOffline,
	TransportInvalidArgument:    CodeInvalidDeviceID,
	TransportFailedPrecondition: CodeInvalidDeviceID,
}

type phraseRule struct {
	phrase string
	code   Code
}

// phraseTable is matched in order against the lowercased error message when
// no transport code matched. Legacy backends report English or Spanish text.
// TODO(i18n): drop the Spanish phrases once the claim service returns codes.
var phraseTable = []phraseRule{
	{"already claimed", CodeDeviceAlreadyClaimed},
	{"ya reclamado", CodeDeviceAlreadyClaimed},
	{"ya fue reclamado", CodeDeviceAlreadyClaimed},
	{"ya está reclamado", CodeDeviceAlreadyClaimed},
	{"permission denied", CodePermissionDenied},
	{"permiso denegado", CodePermissionDenied},
	{"unauthenticated", CodePermissionDenied},
	{"no autorizado", CodePermissionDenied},
	{"invalid device id", CodeInvalidDeviceID},
	{"id de dispositivo inválido", CodeInvalidDeviceID},
	{"invalid format", CodeInvalidDeviceID},
	{"formato inválido", CodeInvalidDeviceID},
	{"wifi", CodeWiFiConfigFailed},
	{"wi-fi", CodeWiFiConfigFailed},
	{"offline", CodeDeviceOffline},
	{"sin conexión", CodeDeviceOffline},
	{"fuera de línea", CodeDeviceOffline},
	{"network", CodeDeviceOffline},
	{"timed out", CodeDeviceOffline},
	{"timeout", CodeDeviceOffline},
	{"deadline exceeded", CodeDeviceOffline},
	{"tiempo de espera", CodeDeviceOffline},
	{"unavailable", CodeDeviceOffline},
	{"no disponible", CodeDeviceOffline},
	{"not found", CodeDeviceNotFound},
	{"no encontrado", CodeDeviceNotFound},
}

// Classify maps a raw failure to a provisioning code.
//
// The code table, the phrase table and the CodeDeviceNotFound fallback run
// last. Before them, in order:
//
//   - an *Error keeps its code
//   - a *ValidationError is CodeWiFiConfigFailed for wifi fields and
//     CodeInvalidDeviceID otherwise
//   - ErrNotAuthenticated is CodePermissionDenied
//   - cancellation, from the context or the transport, is CodeUnknown so a
//     user who backed out is not told the device was missing
//
// A nil error is CodeUnknown.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		if strings.HasPrefix(strings.ToLower(ve.Field), "wifi") {
			return CodeWiFiConfigFailed
		}
		return CodeInvalidDeviceID
	}

	if errors.Is(err, ErrNotAuthenticated) {
		return CodePermissionDenied
	}
	if errors.Is(err, context.Canceled) || CodeOf(err) == TransportCancelled {
		return CodeUnknown
	}

	if code, ok := codeTable[CodeOf(err)]; ok {
		return code
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range phraseTable {
		if strings.Contains(msg, rule.phrase) {
			return rule.code
		}
	}

	return CodeDeviceNotFound
}

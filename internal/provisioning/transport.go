package provisioning

import (
	"context"
	"errors"
	"fmt"
)

// TransportCode is the status code a store adapter attaches to a failure.
// The values mirror the gRPC-style codes used by document and real-time
// database backends.
type TransportCode string

// Transport codes.
const (
	TransportNotFound           TransportCode = "not-found"
	TransportPermissionDenied   TransportCode = "permission-denied"
	TransportUnauthenticated    TransportCode = "unauthenticated"
	TransportUnavailable        TransportCode = "unavailable"
	TransportTimeout            TransportCode = "timeout"
	TransportDeadlineExceeded   TransportCode = "deadline-exceeded"
	TransportResourceExhausted  TransportCode = "resource-exhausted"
	TransportAborted            TransportCode = "aborted"
	TransportInvalidArgument    TransportCode = "invalid-argument"
	TransportFailedPrecondition TransportCode = "failed-precondition"
	TransportAlreadyExists      TransportCode = "already-exists"
	TransportCancelled          TransportCode = "cancelled"
	TransportInternal           TransportCode = "internal"
)

// TransportError is a store or network failure tagged with a transport code.
type TransportError struct {
	Code TransportCode
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError tags err with code.
func NewTransportError(op string, code TransportCode, err error) *TransportError {
	return &TransportError{Code: code, Op: op, Err: err}
}

// CodeOf returns the transport code carried by err, or "" when there is none.
// Bare context errors are reported as deadline-exceeded and cancelled.
func CodeOf(err error) TransportCode {
	if err == nil {
		return ""
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return TransportDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return TransportCancelled
	}
	return ""
}

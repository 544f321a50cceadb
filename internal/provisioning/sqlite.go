package provisioning

import (
	"context"
	"errors"

	"github.com/nerrad567/dispenser-core/internal/infrastructure/database"
)

// FromSQLite tags a SQLite failure with the transport code the retry and
// classification layers understand. A busy database is unavailable and a
// full one is resource-exhausted, so both are retried. A constraint
// violation means the written values were rejected: invalid-argument.
func FromSQLite(op string, err error) error {
	if err == nil {
		return nil
	}
	code := TransportInternal
	switch {
	case database.IsBusy(err):
		code = TransportUnavailable
	case database.IsFull(err):
		code = TransportResourceExhausted
	case database.IsConstraint(err):
		code = TransportInvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		code = TransportDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = TransportCancelled
	}
	return NewTransportError(op, code, err)
}

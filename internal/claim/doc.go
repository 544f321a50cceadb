// Package claim checks whether a device ID can be claimed during setup.
//
// A device ID is checked in two stages. ValidateFormat is a pure check of
// length and charset and never touches the network. The availability check
// reads the shared claim registry: a record with a primary patient means the
// device belongs to someone else. A missing record means the device has not
// been claimed yet.
//
// The availability check is advisory. The registry is read without a lock,
// so two people validating the same unclaimed ID at once will both see it as
// available. The claim itself is enforced by whoever assigns the primary
// patient.
//
// Validator.Request debounces keystroke-driven checks: requests within the
// debounce window replace each other, and every dispatched lookup carries a
// token so a slow response for an older ID can never overwrite the result for
// the newest one.
package claim

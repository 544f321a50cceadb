// Package wizard drives the device provisioning wizard.
//
// The Controller is a state machine over six steps:
//
//	WELCOME → DEVICE_ID → VERIFY → WIFI → PREFERENCES → COMPLETE
//
// Next only succeeds once the current step has asserted that it may
// proceed. Every transition snapshots the form into the ProgressStore,
// announces the new step and resets the proceed flag. A saved snapshot is
// never resumed automatically: Mount offers it and the caller chooses
// Resume or Discard.
//
// The Controller owns no UI. Terminal, HTTP and websocket front ends drive
// it through its commands and render the State and Events it publishes.
package wizard

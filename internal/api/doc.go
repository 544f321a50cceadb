// Package api implements the HTTP REST API and WebSocket server for the
// dispenser provisioning core.
//
// This package provides:
//   - Wizard endpoints driving one provisioning controller per signed-in user
//   - Device configuration endpoints (read, partial update, Wi-Fi)
//   - Device ID availability checks
//   - WebSocket hub pushing wizard events to their user and config saves to device watchers
//   - Bearer session tokens with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Errors
//
// Provisioning failures are answered with their user-facing bundle. The
// status follows the error kind: validation 400, conflict 409, permission
// 403, transient 503 and unknown 500. Wizard commands that are not valid in
// the current state are 409 with a state code such as "cannot_proceed".
//
// # Partial saves
//
// A configuration save that reached the durable store is a success even
// when the real-time write failed. The response carries partial=true and a
// warning instead of an error status.
package api

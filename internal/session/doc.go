// Package session identifies the caller of provisioning operations.
//
// Components never read a global "current user". They receive a Provider and
// ask it for the user bound to the request context. The HTTP API binds the
// subject of a verified bearer token; the operator CLI binds a fixed user.
package session

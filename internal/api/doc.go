// Package api implements the HTTP surface of the logger gateway.
//
// This package provides:
//   - the device check-in routes, mounted from the gateway package under /gateway
//   - operator endpoints for devices, reading history and configuration requests
//   - admin registration of hardware models and devices
//   - a WebSocket hub streaming status, reading and config request events
//   - JWT bearer authentication with role-based permissions
//   - middleware (request ID, logging, recovery, CORS, body limit)
//
// Check-in routes are unauthenticated and answer in each vendor's own
// response shape. Everything under /api/v1 uses the {status, code, message}
// error envelope.
package api

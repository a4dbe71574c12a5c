// Package auth authenticates operators of the gateway's management API.
//
// Operators present HS256 JWTs carrying a role (viewer, operator, admin).
// Roles map to a static permission set; there is no user database. Device
// check-in routes are never authenticated.
package auth

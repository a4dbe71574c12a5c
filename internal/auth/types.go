package auth

import (
	"errors"
	"regexp"
)

// subjectPattern is the accepted operator subject format.
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]{1,128}$`)

// IsValidSubject checks if a token subject meets format requirements.
func IsValidSubject(subject string) bool {
	return subjectPattern.MatchString(subject)
}

// Role represents an operator authorisation tier.
type Role string

const (
	// RoleViewer can read devices and config request history.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally queue configuration changes.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally cancel queued requests.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)

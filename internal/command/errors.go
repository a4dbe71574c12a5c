package command

import "errors"

// Domain errors for the command package.
var (
	// ErrRequestNotFound is returned when a configuration request ID does not exist.
	ErrRequestNotFound = errors.New("command: not found")

	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("command: invalid transition")

	// ErrInvalidStatus is returned when a stored status is not recognised.
	ErrInvalidStatus = errors.New("command: invalid status")

	// ErrInvalidConfig is returned when an operator-submitted configuration
	// fails schema validation.
	ErrInvalidConfig = errors.New("command: invalid configuration")
)

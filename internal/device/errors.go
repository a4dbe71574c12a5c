package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown logger, answer with the vendor envelope and drop the data
//	}
var (
	// ErrDeviceNotFound is returned when no device matches a UID, code or ID.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose UID or code is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidVendor is returned when a vendor tag is not recognised.
	ErrInvalidVendor = errors.New("device: invalid vendor")

	// ErrInvalidSlot is returned when a sensor slot is outside the model's range.
	ErrInvalidSlot = errors.New("device: invalid slot")

	// ErrHardwareModelNotFound is returned when a referenced hardware model does not exist.
	ErrHardwareModelNotFound = errors.New("device: hardware model not found")
)

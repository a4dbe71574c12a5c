package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxUIDLength  = 64
	maxSlotCount  = 16

	// uidPattern accepts IMEIs, serial numbers and vendor hex IDs.
	uidPattern = `^[A-Za-z0-9._:-]+$`
)

var uidRegex = regexp.MustCompile(uidPattern)

// ValidateDevice checks a device against its hardware model.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device, model *HardwareModel) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateUID(d.UID); err != nil {
		return err
	}
	if d.Code != nil {
		if err := ValidateUID(*d.Code); err != nil {
			return fmt.Errorf("%w: code: %v", ErrInvalidDevice, err)
		}
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.HardwareModelID == "" {
		return fmt.Errorf("%w: hardware_model_id is required", ErrInvalidDevice)
	}
	if d.UploadInterval < 0 {
		return fmt.Errorf("%w: upload_interval must be positive", ErrInvalidDevice)
	}
	if model == nil {
		return nil
	}

	seen := make(map[int]struct{}, len(d.Sensors))
	for _, s := range d.Sensors {
		if s.Slot < 1 || s.Slot > model.SlotCount {
			return fmt.Errorf("%w: slot %d outside 1..%d", ErrInvalidSlot, s.Slot, model.SlotCount)
		}
		if _, dup := seen[s.Slot]; dup {
			return fmt.Errorf("%w: slot %d assigned twice", ErrInvalidSlot, s.Slot)
		}
		seen[s.Slot] = struct{}{}
		if s.SensorType != SensorTemperature && s.SensorType != SensorHumidity {
			return fmt.Errorf("%w: unknown sensor type %q", ErrInvalidDevice, s.SensorType)
		}
	}
	return nil
}

// ValidateHardwareModel checks a hardware model definition.
func ValidateHardwareModel(m *HardwareModel) error {
	if m == nil {
		return ErrInvalidDevice
	}
	if !m.Vendor.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVendor, m.Vendor)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidDevice)
	}
	if m.SlotCount < 1 || m.SlotCount > maxSlotCount {
		return fmt.Errorf("%w: slot_count must be 1..%d", ErrInvalidDevice, maxSlotCount)
	}
	return nil
}

// ValidateUID checks a device identifier as reported on the wire.
func ValidateUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: uid cannot be empty", ErrInvalidDevice)
	}
	if len(uid) > maxUIDLength {
		return fmt.Errorf("%w: uid exceeds %d characters", ErrInvalidDevice, maxUIDLength)
	}
	if !uidRegex.MatchString(uid) {
		return fmt.Errorf("%w: uid contains invalid characters", ErrInvalidDevice)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidDevice)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return nil
}

// GenerateID creates a new UUID for a device or hardware model.
func GenerateID() string {
	return uuid.New().String()
}

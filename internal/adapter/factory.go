package adapter

import (
	"fmt"
	"sync"

	"github.com/nerrad567/loggergw/internal/device"
)

// Factory resolves the adapter for a vendor or device. Instances are
// created on first use and shared for the life of the process.
//
// Factory is safe for concurrent use.
type Factory struct {
	mu       sync.RWMutex
	adapters map[device.Vendor]VendorAdapter
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{adapters: make(map[device.Vendor]VendorAdapter)}
}

// MakeForVendor returns the adapter for vendor.
// Returns ErrUnknownVendor for a tag outside the supported set.
func (f *Factory) MakeForVendor(vendor device.Vendor) (VendorAdapter, error) {
	f.mu.RLock()
	a, ok := f.adapters[vendor]
	f.mu.RUnlock()
	if ok {
		return a, nil
	}

	a, err := newAdapter(vendor)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.adapters[vendor]; ok {
		return existing, nil
	}
	f.adapters[vendor] = a
	return a, nil
}

// MakeForDevice returns the adapter for the device's hardware-model vendor.
func (f *Factory) MakeForDevice(d *device.Device) (VendorAdapter, error) {
	if d == nil || d.HardwareModel == nil {
		return nil, fmt.Errorf("%w: device has no hardware model", ErrUnknownVendor)
	}
	return f.MakeForVendor(d.HardwareModel.Vendor)
}

func newAdapter(vendor device.Vendor) (VendorAdapter, error) {
	switch vendor {
	case device.VendorZion:
		return Zion{}, nil
	case device.VendorTZone:
		return TZone{}, nil
	case device.VendorIdeabyte:
		return Ideabyte{}, nil
	case device.VendorAliter:
		return Aliter{}, nil
	case device.VendorSunsui:
		return Sunsui{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, vendor)
	}
}

package adapter

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/loggergw/internal/device"
)

func TestFactory_MakeForVendor(t *testing.T) {
	f := NewFactory()

	for _, v := range device.AllVendors() {
		a, err := f.MakeForVendor(v)
		if err != nil {
			t.Fatalf("MakeForVendor(%q) error = %v", v, err)
		}
		if a.Vendor() != v {
			t.Errorf("MakeForVendor(%q).Vendor() = %q", v, a.Vendor())
		}
	}

	if _, err := f.MakeForVendor("acme"); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("MakeForVendor(acme) error = %v, want ErrUnknownVendor", err)
	}
}

func TestFactory_Memoizes(t *testing.T) {
	f := NewFactory()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.MakeForVendor(device.VendorTZone); err != nil {
				t.Errorf("MakeForVendor() error = %v", err)
			}
		}()
	}
	wg.Wait()

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.adapters) != 1 {
		t.Errorf("cached adapters = %d, want 1", len(f.adapters))
	}
}

func TestFactory_MakeForDevice(t *testing.T) {
	f := NewFactory()

	d := &device.Device{UID: "S1", HardwareModel: &device.HardwareModel{Vendor: device.VendorSunsui}}
	a, err := f.MakeForDevice(d)
	if err != nil {
		t.Fatalf("MakeForDevice() error = %v", err)
	}
	if _, ok := a.(Sunsui); !ok {
		t.Errorf("MakeForDevice() = %T, want Sunsui", a)
	}

	if _, err := f.MakeForDevice(&device.Device{UID: "X"}); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("MakeForDevice(no model) error = %v, want ErrUnknownVendor", err)
	}
}

func TestAcknowledgesCommands(t *testing.T) {
	tests := []struct {
		vendor device.Vendor
		want   bool
	}{
		{device.VendorZion, true},
		{device.VendorTZone, true},
		{device.VendorIdeabyte, false},
		{device.VendorAliter, false},
		{device.VendorSunsui, false},
	}

	f := NewFactory()
	for _, tt := range tests {
		t.Run(string(tt.vendor), func(t *testing.T) {
			a, err := f.MakeForVendor(tt.vendor)
			if err != nil {
				t.Fatalf("MakeForVendor() error = %v", err)
			}
			if got := AcknowledgesCommands(a); got != tt.want {
				t.Errorf("AcknowledgesCommands(%s) = %v, want %v", tt.vendor, got, tt.want)
			}
		})
	}
}

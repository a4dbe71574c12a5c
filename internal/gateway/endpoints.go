package gateway

import (
	"github.com/nerrad567/loggergw/internal/adapter"
	"github.com/nerrad567/loggergw/internal/device"
)

// lookupMode selects how an identifier is matched against registered devices.
type lookupMode int

const (
	lookupUID lookupMode = iota
	lookupUIDOrCode
)

// endpoint describes one vendor's check-in route.
type endpoint struct {
	vendor device.Vendor

	// identify extracts the device identifier, returning "" when absent.
	identify func(req *adapter.Request) string

	lookup lookupMode

	// timeSync reports whether the check-in only asks for the server clock.
	// Such check-ins are answered before any device lookup.
	timeSync func(req *adapter.Request) bool
}

func endpoints() []endpoint {
	return []endpoint{
		{
			vendor: device.VendorZion,
			identify: func(req *adapter.Request) string {
				return firstNonEmpty(req.Query.Get("deviceUid"), adapter.ZionDeviceUID(req.Body))
			},
			lookup: lookupUID,
		},
		{
			vendor: device.VendorTZone,
			identify: func(req *adapter.Request) string {
				return adapter.TZoneIdentifier(req.Body)
			},
			lookup: lookupUIDOrCode,
			timeSync: func(req *adapter.Request) bool {
				mt, err := adapter.TZoneMessageType(req.Body)
				return err == nil && mt == adapter.TZoneTimeSync
			},
		},
		{
			vendor: device.VendorIdeabyte,
			identify: func(req *adapter.Request) string {
				return adapter.IdeabyteIdentifier(req.Body)
			},
			lookup: lookupUIDOrCode,
		},
		{
			vendor: device.VendorAliter,
			identify: func(req *adapter.Request) string {
				return firstNonEmpty(req.Query.Get("device_uid"), adapter.AliterIdentifier(req.Body))
			},
			lookup: lookupUID,
		},
		{
			vendor: device.VendorSunsui,
			identify: func(req *adapter.Request) string {
				return firstNonEmpty(req.Query.Get("device_uid"), adapter.SunsuiIdentifier(req.Body))
			},
			lookup: lookupUID,
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

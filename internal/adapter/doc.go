// Package adapter holds the protocol codecs for the five logger vendors.
//
// Each vendor posts readings in its own JSON dialect, expects its own
// response envelope and accepts configuration in its own command syntax.
// VendorAdapter captures that contract once; zion.go, tzone.go,
// ideabyte.go, aliter.go and sunsui.go are flat implementations with no
// shared base behaviour. Factory hands out one memoized instance per vendor.
//
// Readings are addressed by physical slot number. Which sensor type sits
// on a slot is decided later from the device's sensor assignments.
//
// Configuration uses a canonical vocabulary (record_interval,
// upload_interval, temp_high, temp_low, humidity_high, humidity_low).
// A vendor that cannot express a requested key fails with an
// *UnsupportedConfigError naming every such key.
package adapter

package device

import "time"

// Device is one physical logger registered with the gateway.
// This matches the devices table in migrations/20260301_090000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string  `json:"id"`
	UID  string  `json:"uid"`
	Code *string `json:"code,omitempty"`
	Name string  `json:"name"`

	// Hardware. HardwareModel and Sensors are eager-loaded by the repository
	// because every check-in needs them to pick an adapter and map slots.
	HardwareModelID string             `json:"hardware_model_id"`
	HardwareModel   *HardwareModel     `json:"hardware_model,omitempty"`
	Sensors         []SensorAssignment `json:"sensors"`

	// Liveness
	Status        Status     `json:"status"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	LastReadingAt *time.Time `json:"last_reading_at,omitempty"`

	// Telemetry from the most recent batch
	FirmwareVersion *string  `json:"firmware_version,omitempty"`
	BatteryVoltage  *float64 `json:"battery_voltage,omitempty"`
	SignalStrength  *int     `json:"signal_strength,omitempty"`

	// UploadInterval is the expected seconds between check-ins.
	UploadInterval int `json:"upload_interval"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Vendor returns the vendor tag of the device's hardware model, or "" when
// the model was not loaded.
func (d *Device) Vendor() Vendor {
	if d == nil || d.HardwareModel == nil {
		return ""
	}
	return d.HardwareModel.Vendor
}

// SensorForSlot returns the sensor assignment wired to slot.
func (d *Device) SensorForSlot(slot int) (SensorAssignment, bool) {
	for _, s := range d.Sensors {
		if s.Slot == slot {
			return s, true
		}
	}
	return SensorAssignment{}, false
}

// HardwareModel describes a logger family from one vendor.
type HardwareModel struct {
	ID        string    `json:"id"`
	Vendor    Vendor    `json:"vendor"`
	Name      string    `json:"name"`
	SlotCount int       `json:"slot_count"`
	CreatedAt time.Time `json:"created_at"`
}

// SensorAssignment maps a physical slot to the logical sensor wired to it.
type SensorAssignment struct {
	Slot       int        `json:"slot"`
	SensorType SensorType `json:"sensor_type"`
	Unit       string     `json:"unit"`
}

// Vendor identifies a logger manufacturer and therefore its wire protocol.
type Vendor string

// Supported vendors.
const (
	VendorZion     Vendor = "zion"
	VendorTZone    Vendor = "tzone"
	VendorIdeabyte Vendor = "ideabyte"
	VendorAliter   Vendor = "aliter"
	VendorSunsui   Vendor = "sunsui"
)

// AllVendors returns every supported vendor.
func AllVendors() []Vendor {
	return []Vendor{VendorZion, VendorTZone, VendorIdeabyte, VendorAliter, VendorSunsui}
}

// Valid reports whether v is a supported vendor.
func (v Vendor) Valid() bool {
	for _, known := range AllVendors() {
		if v == known {
			return true
		}
	}
	return false
}

// Status is the connectivity state of a device.
type Status string

// Device statuses.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// SensorType is the logical quantity measured on a slot.
type SensorType string

// Sensor types.
const (
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
)

// DefaultUnit returns the unit stored for a sensor type when none is given.
func (s SensorType) DefaultUnit() string {
	switch s {
	case SensorTemperature:
		return "degC"
	case SensorHumidity:
		return "%RH"
	default:
		return ""
	}
}

// BookkeepingUpdate carries the per-device fields refreshed after a batch
// set is stored.
type BookkeepingUpdate struct {
	LastReadingAt   time.Time
	FirmwareVersion *string
	BatteryVoltage  *float64
	SignalStrength  *int
}

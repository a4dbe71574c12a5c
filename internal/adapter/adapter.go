package adapter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/loggergw/internal/device"
)

// Adapter errors.
var (
	// ErrUnsupportedConfig is matched by every UnsupportedConfigError.
	ErrUnsupportedConfig = errors.New("adapter: unsupported configuration")

	// ErrUnknownVendor is returned by the factory for a vendor tag it cannot serve.
	ErrUnknownVendor = errors.New("adapter: unknown vendor")

	// ErrMalformedPayload is returned when a check-in body is not the JSON
	// shape the vendor sends.
	ErrMalformedPayload = errors.New("adapter: malformed payload")
)

// VendorAdapter is the protocol codec for one vendor's check-ins.
//
// Implementations hold no per-request state; one instance per vendor is
// shared by every request.
type VendorAdapter interface {
	// Vendor returns the vendor tag this adapter speaks for.
	Vendor() device.Vendor

	// ParseReadings turns one check-in into normalized batches. Non-data
	// messages (time sync, ack only) yield an empty slice and no error.
	ParseReadings(req *Request) ([]Batch, error)

	// BuildConfigCommand serializes the requested keys into the vendor's
	// command syntax. Keys the vendor cannot express produce an
	// *UnsupportedConfigError.
	BuildConfigCommand(config map[string]any) (string, error)

	// BuildSuccessResponse builds the envelope the device expects. A nil or
	// empty command is left out of the envelope entirely.
	BuildSuccessResponse(command *string, rc ResponseContext) any

	// ParseConfigAck reports whether the check-in acknowledges a
	// previously pushed command. Vendors without acks return AckNone.
	ParseConfigAck(req *Request) Ack
}

// Request is one inbound check-in as seen by an adapter.
type Request struct {
	Query      url.Values
	Body       []byte
	ReceivedAt time.Time
}

// Batch is one point-in-time sample set from a device.
// A batch with no readings never reaches persistence.
type Batch struct {
	RecordedAt      time.Time `json:"recorded_at"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
	BatteryVoltage  *float64  `json:"battery_voltage,omitempty"`
	SignalStrength  *int      `json:"signal_strength,omitempty"`
	Readings        []Reading `json:"readings"`
}

// Reading is a single slot value. Value is nil when the device reported the
// slot without a measurement.
type Reading struct {
	Slot     int            `json:"slot"`
	Value    *float64       `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Reading metadata states.
const (
	StateNoSensor = "no_sensor"
	StateInvalid  = "invalid"
)

// AckResult is the outcome a device reports for a pushed command.
type AckResult string

// Ack results.
const (
	AckNone      AckResult = ""
	AckConfirmed AckResult = "confirmed"
	AckFailed    AckResult = "failed"
)

// Ack is a parsed configuration acknowledgement.
type Ack struct {
	Result AckResult
	Reason string
}

// Acknowledger is implemented by adapters whose devices acknowledge every
// pushed command on a later check-in.
type Acknowledger interface {
	AcknowledgesCommands() bool
}

// AcknowledgesCommands reports whether a's devices acknowledge commands.
func AcknowledgesCommands(a VendorAdapter) bool {
	ack, ok := a.(Acknowledger)
	return ok && ack.AcknowledgesCommands()
}

// ResponseContext carries what an envelope may need besides the command.
type ResponseContext struct {
	// Identifier is the device identifier extracted from the check-in.
	Identifier string

	// Device is nil when the identifier matched no registered device.
	Device *device.Device

	// ServerTime is the gateway's clock at response time.
	ServerTime time.Time

	// UploadInterval is the device's expected check-in period in seconds.
	UploadInterval int
}

// UnsupportedConfigError reports configuration the vendor cannot express.
type UnsupportedConfigError struct {
	Vendor device.Vendor
	Keys   []string
	Reason string
}

func (e *UnsupportedConfigError) Error() string {
	msg := fmt.Sprintf("adapter: unsupported configuration for %s", e.Vendor)
	if len(e.Keys) > 0 {
		msg += ": " + strings.Join(e.Keys, ", ")
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Is makes errors.Is(err, ErrUnsupportedConfig) true.
func (e *UnsupportedConfigError) Is(target error) bool {
	return target == ErrUnsupportedConfig
}

// commandOrNil treats an empty command as absent.
func commandOrNil(command *string) *string {
	if command == nil || *command == "" {
		return nil
	}
	return command
}

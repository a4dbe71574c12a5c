package adapter

import (
	"strconv"
	"strings"

	"github.com/nerrad567/loggergw/internal/device"
)

// Zion posts a single object wrapped in entity.data and reads commands in
// an AT-style "+CFG:" string.
type Zion struct{}

var zionSlots = []slotKey{
	{"temp", 1},
	{"humi", 2},
	{"temp2", 3},
	{"humi2", 4},
}

// zionCommandKeys is the fixed order of the +CFG: string.
var zionCommandKeys = []struct {
	key      string
	mnemonic string
	interval bool
}{
	{KeyRecordInterval, "RI", true},
	{KeyUploadInterval, "UI", true},
	{KeyTempHigh, "TH", false},
	{KeyTempLow, "TL", false},
	{KeyHumidityHigh, "HH", false},
	{KeyHumidityLow, "HL", false},
}

type zionResponse struct {
	Success   bool    `json:"success"`
	Timestamp int64   `json:"timestamp"`
	Cmd       *string `json:"cmd,omitempty"`
}

// Vendor implements VendorAdapter.
func (Zion) Vendor() device.Vendor { return device.VendorZion }

// zionData returns the entity.data object of a Zion body.
func zionData(body []byte) (fields, error) {
	root, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	entity, err := root.object("entity")
	if err != nil {
		return nil, err
	}
	return entity.object("data")
}

// ZionDeviceUID returns entity.data.deviceUid, or "" if absent.
func ZionDeviceUID(body []byte) string {
	data, err := zionData(body)
	if err != nil {
		return ""
	}
	return data.firstStr("deviceUid")
}

// ParseReadings implements VendorAdapter.
func (Zion) ParseReadings(req *Request) ([]Batch, error) {
	data, err := zionData(req.Body)
	if err != nil {
		return nil, err
	}

	batch := newBatch(data.unixTime("time", receivedAt(req)), collectReadings(data, zionSlots))
	if batch == nil {
		return []Batch{}, nil
	}
	batch.BatteryVoltage = data.number("battery")
	batch.SignalStrength = data.integer("rssi")
	batch.FirmwareVersion = data.str("fwVersion")
	return []Batch{*batch}, nil
}

// BuildConfigCommand implements VendorAdapter.
func (Zion) BuildConfigCommand(config map[string]any) (string, error) {
	if err := checkKeys(device.VendorZion, config, CanonicalKeys()...); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(config))
	for _, k := range zionCommandKeys {
		if !hasKey(config, k.key) {
			continue
		}
		if k.interval {
			n, err := configInterval(device.VendorZion, config, k.key)
			if err != nil {
				return "", err
			}
			parts = append(parts, k.mnemonic+"="+strconv.Itoa(n))
			continue
		}
		f, err := configNumber(device.VendorZion, config, k.key)
		if err != nil {
			return "", err
		}
		parts = append(parts, k.mnemonic+"="+formatThreshold(f))
	}
	return "+CFG:" + strings.Join(parts, ";"), nil
}

// BuildSuccessResponse implements VendorAdapter.
func (Zion) BuildSuccessResponse(command *string, rc ResponseContext) any {
	return zionResponse{
		Success:   true,
		Timestamp: rc.ServerTime.Unix(),
		Cmd:       commandOrNil(command),
	}
}

// AcknowledgesCommands implements Acknowledger.
func (Zion) AcknowledgesCommands() bool { return true }

// ParseConfigAck implements VendorAdapter.
func (Zion) ParseConfigAck(req *Request) Ack {
	data, err := zionData(req.Body)
	if err != nil {
		return Ack{}
	}
	switch strings.ToLower(data.firstStr("cmdResult")) {
	case "ok":
		return Ack{Result: AckConfirmed}
	case "error", "fail":
		reason := data.firstStr("cmdError")
		if reason == "" {
			reason = "device reported error"
		}
		return Ack{Result: AckFailed, Reason: reason}
	default:
		return Ack{}
	}
}

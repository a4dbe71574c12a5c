package adapter

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/nerrad567/loggergw/internal/device"
)

// AliterTimeLayout is the ts format Aliter sends, in UTC.
const AliterTimeLayout = "2006-01-02 15:04:05"

// Aliter reports numbered channels. Its configuration protocol is not
// known, so every command request fails.
type Aliter struct{}

type aliterResponse struct {
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

// Vendor implements VendorAdapter.
func (Aliter) Vendor() device.Vendor { return device.VendorAliter }

// AliterIdentifier returns the body's device field.
func AliterIdentifier(body []byte) string {
	root, err := decodeObject(body)
	if err != nil {
		return ""
	}
	return root.firstStr("device")
}

// ParseReadings implements VendorAdapter.
func (Aliter) ParseReadings(req *Request) ([]Batch, error) {
	root, err := decodeObject(req.Body)
	if err != nil {
		return nil, err
	}

	var readings []Reading
	if raw, ok := root["channels"]; ok && !isNull(raw) {
		var channels []fields
		if err := json.Unmarshal(raw, &channels); err != nil {
			return nil, fmt.Errorf("%w: channels: %v", ErrMalformedPayload, err)
		}
		for _, ch := range channels {
			slot := ch.integer("ch")
			if slot == nil || *slot < 1 {
				continue
			}
			r, ok := ch.reading("v", *slot)
			if !ok {
				r = Reading{Slot: *slot, Metadata: map[string]any{"state": StateNoSensor}}
			}
			readings = append(readings, r)
		}
	}

	batch := newBatch(root.layoutTime("ts", AliterTimeLayout, receivedAt(req)), readings)
	if batch == nil {
		return []Batch{}, nil
	}
	batch.BatteryVoltage = root.number("bat")
	batch.SignalStrength = root.integer("rssi")
	batch.FirmwareVersion = root.str("fw")
	return []Batch{*batch}, nil
}

// BuildConfigCommand implements VendorAdapter. It always fails.
func (Aliter) BuildConfigCommand(config map[string]any) (string, error) {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "", &UnsupportedConfigError{
		Vendor: device.VendorAliter,
		Keys:   keys,
		Reason: "configuration protocol not implemented",
	}
}

// BuildSuccessResponse implements VendorAdapter. Aliter envelopes never
// carry a command.
func (Aliter) BuildSuccessResponse(_ *string, rc ResponseContext) any {
	return aliterResponse{Status: "ok", Time: rc.ServerTime.Unix()}
}

// ParseConfigAck implements VendorAdapter.
func (Aliter) ParseConfigAck(*Request) Ack { return Ack{} }

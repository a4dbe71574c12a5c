package adapter

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nerrad567/loggergw/internal/device"
)

// Ideabyte posts a single object for live readings and an array of the
// same objects when flushing its history buffer. Commands are JSON.
type Ideabyte struct{}

var ideabyteSlots = []slotKey{
	{"Temp1", 1},
	{"Temp2", 2},
	{"Hum1", 3},
	{"Hum2", 4},
}

type ideabyteCommand struct {
	Interval *int           `json:"interval,omitempty"`
	Upload   *int           `json:"upload,omitempty"`
	Alarm    *ideabyteAlarm `json:"alarm,omitempty"`
}

type ideabyteAlarm struct {
	THigh *float64 `json:"tHigh,omitempty"`
	TLow  *float64 `json:"tLow,omitempty"`
	HHigh *float64 `json:"hHigh,omitempty"`
	HLow  *float64 `json:"hLow,omitempty"`
}

type ideabyteResponse struct {
	Message   string `json:"message"`
	ID        string `json:"Id"`
	Frequency int    `json:"frequency"`
	Config    any    `json:"config"`
}

// Vendor implements VendorAdapter.
func (Ideabyte) Vendor() device.Vendor { return device.VendorIdeabyte }

// ideabyteRecords decodes an object or array body into records.
func ideabyteRecords(body []byte) ([]fields, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '[' {
		obj, err := decodeObject(body)
		if err != nil {
			return nil, err
		}
		return []fields{obj}, nil
	}
	var records []fields
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return records, nil
}

// IdeabyteIdentifier returns Id (or id) of the object, or of the first
// element when the body is an array.
func IdeabyteIdentifier(body []byte) string {
	records, err := ideabyteRecords(body)
	if err != nil || len(records) == 0 || records[0] == nil {
		return ""
	}
	return records[0].firstStr("Id", "id")
}

// ParseReadings implements VendorAdapter.
func (Ideabyte) ParseReadings(req *Request) ([]Batch, error) {
	records, err := ideabyteRecords(req.Body)
	if err != nil {
		return nil, err
	}

	fallback := receivedAt(req)
	batches := make([]Batch, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		batch := newBatch(rec.unixTime("Ts", fallback), collectReadings(rec, ideabyteSlots))
		if batch == nil {
			continue
		}
		batch.BatteryVoltage = rec.number("Bat")
		batch.SignalStrength = rec.integer("Rssi")
		batch.FirmwareVersion = rec.str("Fw")
		batches = append(batches, *batch)
	}
	return batches, nil
}

// BuildConfigCommand implements VendorAdapter.
func (Ideabyte) BuildConfigCommand(config map[string]any) (string, error) {
	if err := checkKeys(device.VendorIdeabyte, config, CanonicalKeys()...); err != nil {
		return "", err
	}

	var cmd ideabyteCommand
	if hasKey(config, KeyRecordInterval) {
		n, err := configInterval(device.VendorIdeabyte, config, KeyRecordInterval)
		if err != nil {
			return "", err
		}
		cmd.Interval = &n
	}
	if hasKey(config, KeyUploadInterval) {
		n, err := configInterval(device.VendorIdeabyte, config, KeyUploadInterval)
		if err != nil {
			return "", err
		}
		cmd.Upload = &n
	}

	var alarm ideabyteAlarm
	for _, th := range []struct {
		key string
		dst **float64
	}{
		{KeyTempHigh, &alarm.THigh},
		{KeyTempLow, &alarm.TLow},
		{KeyHumidityHigh, &alarm.HHigh},
		{KeyHumidityLow, &alarm.HLow},
	} {
		if !hasKey(config, th.key) {
			continue
		}
		f, err := configNumber(device.VendorIdeabyte, config, th.key)
		if err != nil {
			return "", err
		}
		v := roundThreshold(f)
		*th.dst = &v
	}
	if alarm != (ideabyteAlarm{}) {
		cmd.Alarm = &alarm
	}

	out, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("encoding ideabyte command: %w", err)
	}
	return string(out), nil
}

// BuildSuccessResponse implements VendorAdapter. The command is embedded as
// a JSON object, not a string.
func (Ideabyte) BuildSuccessResponse(command *string, rc ResponseContext) any {
	resp := ideabyteResponse{
		Message:   "ok",
		ID:        rc.Identifier,
		Frequency: rc.UploadInterval,
	}
	if cmd := commandOrNil(command); cmd != nil {
		resp.Config = json.RawMessage(*cmd)
	}
	return resp
}

// ParseConfigAck implements VendorAdapter. Ideabyte loggers do not ack.
func (Ideabyte) ParseConfigAck(*Request) Ack { return Ack{} }

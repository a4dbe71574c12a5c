package adapter

import (
	"strconv"
	"strings"

	"github.com/nerrad567/loggergw/internal/device"
)

const millivoltsPerVolt = 1000

// Sunsui posts a sensors object with named channels and battery in
// millivolts. Commands are a key=value; list.
type Sunsui struct{}

var sunsuiSlots = []slotKey{
	{"temperature", 1},
	{"humidity", 2},
	{"temperature_2", 3},
	{"humidity_2", 4},
}

var sunsuiCommandKeys = []struct {
	key      string
	name     string
	interval bool
}{
	{KeyRecordInterval, "interval", true},
	{KeyUploadInterval, "upload", true},
	{KeyTempHigh, "tmax", false},
	{KeyTempLow, "tmin", false},
	{KeyHumidityHigh, "hmax", false},
	{KeyHumidityLow, "hmin", false},
}

type sunsuiResponse struct {
	Code    int     `json:"code"`
	Msg     string  `json:"msg"`
	Command *string `json:"command,omitempty"`
}

// Vendor implements VendorAdapter.
func (Sunsui) Vendor() device.Vendor { return device.VendorSunsui }

// SunsuiIdentifier returns the body's device_uid, falling back to sn.
func SunsuiIdentifier(body []byte) string {
	root, err := decodeObject(body)
	if err != nil {
		return ""
	}
	return root.firstStr("device_uid", "sn")
}

// ParseReadings implements VendorAdapter.
func (Sunsui) ParseReadings(req *Request) ([]Batch, error) {
	root, err := decodeObject(req.Body)
	if err != nil {
		return nil, err
	}
	sensors, err := root.object("sensors")
	if err != nil {
		return nil, err
	}

	batch := newBatch(root.unixTime("timestamp", receivedAt(req)), collectReadings(sensors, sunsuiSlots))
	if batch == nil {
		return []Batch{}, nil
	}
	if mv := root.number("battery_mv"); mv != nil {
		v := *mv / millivoltsPerVolt
		batch.BatteryVoltage = &v
	}
	batch.SignalStrength = root.integer("rssi")
	batch.FirmwareVersion = root.str("firmware")
	return []Batch{*batch}, nil
}

// BuildConfigCommand implements VendorAdapter.
func (Sunsui) BuildConfigCommand(config map[string]any) (string, error) {
	if err := checkKeys(device.VendorSunsui, config, CanonicalKeys()...); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, k := range sunsuiCommandKeys {
		if !hasKey(config, k.key) {
			continue
		}
		var value string
		if k.interval {
			n, err := configInterval(device.VendorSunsui, config, k.key)
			if err != nil {
				return "", err
			}
			value = strconv.Itoa(n)
		} else {
			f, err := configNumber(device.VendorSunsui, config, k.key)
			if err != nil {
				return "", err
			}
			value = formatThreshold(f)
		}
		b.WriteString(k.name)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte(';')
	}
	return b.String(), nil
}

// BuildSuccessResponse implements VendorAdapter.
func (Sunsui) BuildSuccessResponse(command *string, _ ResponseContext) any {
	return sunsuiResponse{Code: 0, Msg: "success", Command: commandOrNil(command)}
}

// ParseConfigAck implements VendorAdapter. Sunsui loggers do not ack.
func (Sunsui) ParseConfigAck(*Request) Ack { return Ack{} }

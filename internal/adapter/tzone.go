package adapter

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nerrad567/loggergw/internal/device"
)

// TZone message types multiplexed onto one endpoint.
const (
	TZoneTimeSync   = 1
	TZoneSensorData = 3
	TZoneConfigAck  = 4
)

// TZoneTimeLayout is the timestamp format TZone sends and expects, in UTC.
const TZoneTimeLayout = "2006/01/02 15:04:05"

// TZone frame constants.
const (
	tzoneFrameHeader  = 0xAA
	tzoneTagRecord    = 0x01
	tzoneTagUpload    = 0x02
	tzoneTagTempHigh  = 0x03
	tzoneTagTempLow   = 0x04
	tzoneSecondsInMin = 60
)

// TZone multiplexes time sync, sensor data and config acks by msgtype and
// takes commands as a hex-encoded binary frame.
type TZone struct{}

var tzoneSlots = []slotKey{
	{"t1", 1},
	{"t2", 2},
	{"h1", 3},
	{"h2", 4},
}

type tzoneResponse struct {
	Sta       int       `json:"sta"`
	Data      tzoneData `json:"data"`
	Error     string    `json:"error"`
	ErrorCode string    `json:"errorcode"`
}

type tzoneData struct {
	ServerTime string  `json:"servertime"`
	Cmd        *string `json:"cmd,omitempty"`
}

// Vendor implements VendorAdapter.
func (TZone) Vendor() device.Vendor { return device.VendorTZone }

// TZoneMessageType returns the msgtype of a TZone body, or 0 when absent.
func TZoneMessageType(body []byte) (int, error) {
	root, err := decodeObject(body)
	if err != nil {
		return 0, err
	}
	if n := root.integer("msgtype"); n != nil {
		return *n, nil
	}
	return 0, nil
}

// TZoneIdentifier returns imei, falling back to sn.
func TZoneIdentifier(body []byte) string {
	root, err := decodeObject(body)
	if err != nil {
		return ""
	}
	return root.firstStr("imei", "sn")
}

// ParseReadings implements VendorAdapter. Only msgtype 3 carries data; one
// batch is produced per element of the data array.
func (TZone) ParseReadings(req *Request) ([]Batch, error) {
	root, err := decodeObject(req.Body)
	if err != nil {
		return nil, err
	}
	if mt := root.integer("msgtype"); mt == nil || *mt != TZoneSensorData {
		return []Batch{}, nil
	}

	raw, ok := root["data"]
	if !ok || isNull(raw) {
		return []Batch{}, nil
	}
	var samples []fields
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
	}

	fallback := receivedAt(req)
	firmware := root.str("ver")
	batches := make([]Batch, 0, len(samples))
	for _, s := range samples {
		if s == nil {
			continue
		}
		batch := newBatch(s.layoutTime("time", TZoneTimeLayout, fallback), collectReadings(s, tzoneSlots))
		if batch == nil {
			continue
		}
		batch.BatteryVoltage = s.number("bat")
		batch.SignalStrength = s.integer("csq")
		batch.FirmwareVersion = firmware
		batches = append(batches, *batch)
	}
	return batches, nil
}

// BuildConfigCommand implements VendorAdapter.
//
// Frame: AA <len> (<tag> <int16 BE>)* <sum>, where len counts TLV bytes and
// sum is the byte sum of len and the TLVs, mod 256.
func (TZone) BuildConfigCommand(config map[string]any) (string, error) {
	if err := checkKeys(device.VendorTZone, config,
		KeyRecordInterval, KeyUploadInterval, KeyTempHigh, KeyTempLow,
	); err != nil {
		return "", err
	}

	var tlv []byte
	if hasKey(config, KeyRecordInterval) {
		n, err := configInterval(device.VendorTZone, config, KeyRecordInterval)
		if err != nil {
			return "", err
		}
		if tlv, err = appendTLV(tlv, tzoneTagRecord, KeyRecordInterval, n); err != nil {
			return "", err
		}
	}
	if hasKey(config, KeyUploadInterval) {
		n, err := configInterval(device.VendorTZone, config, KeyUploadInterval)
		if err != nil {
			return "", err
		}
		minutes := (n + tzoneSecondsInMin - 1) / tzoneSecondsInMin
		if tlv, err = appendTLV(tlv, tzoneTagUpload, KeyUploadInterval, minutes); err != nil {
			return "", err
		}
	}
	for _, th := range []struct {
		key string
		tag byte
	}{{KeyTempHigh, tzoneTagTempHigh}, {KeyTempLow, tzoneTagTempLow}} {
		if !hasKey(config, th.key) {
			continue
		}
		f, err := configNumber(device.VendorTZone, config, th.key)
		if err != nil {
			return "", err
		}
		if tlv, err = appendTLV(tlv, th.tag, th.key, int(math.Round(f*10))); err != nil {
			return "", err
		}
	}

	frame := make([]byte, 0, len(tlv)+3)
	frame = append(frame, tzoneFrameHeader, byte(len(tlv)))
	frame = append(frame, tlv...)
	sum := byte(len(tlv))
	for _, b := range tlv {
		sum += b
	}
	frame = append(frame, sum)
	return strings.ToUpper(hex.EncodeToString(frame)), nil
}

func appendTLV(buf []byte, tag byte, key string, value int) ([]byte, error) {
	if value < math.MinInt16 || value > math.MaxInt16 {
		return nil, unsupportedValue(device.VendorTZone, key, "value %d does not fit in 16 bits", value)
	}
	v := uint16(int16(value))
	return append(buf, tag, byte(v>>8), byte(v)), nil
}

// BuildSuccessResponse implements VendorAdapter.
func (TZone) BuildSuccessResponse(command *string, rc ResponseContext) any {
	return tzoneResponse{
		Data: tzoneData{
			ServerTime: rc.ServerTime.UTC().Format(TZoneTimeLayout),
			Cmd:        commandOrNil(command),
		},
	}
}

// AcknowledgesCommands implements Acknowledger.
func (TZone) AcknowledgesCommands() bool { return true }

// ParseConfigAck implements VendorAdapter. Only msgtype 4 is an ack.
func (TZone) ParseConfigAck(req *Request) Ack {
	root, err := decodeObject(req.Body)
	if err != nil {
		return Ack{}
	}
	if mt := root.integer("msgtype"); mt == nil || *mt != TZoneConfigAck {
		return Ack{}
	}
	result := root.integer("result")
	if result == nil {
		return Ack{}
	}
	if *result == 0 {
		return Ack{Result: AckConfirmed}
	}
	return Ack{Result: AckFailed, Reason: fmt.Sprintf("errorcode %d", *result)}
}

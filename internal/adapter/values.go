package adapter

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// fields is a decoded JSON object whose values are decoded lazily so that
// an explicit null can be told apart from a missing key.
type fields map[string]json.RawMessage

var nullLiteral = []byte("null")

// decodeObject decodes a JSON object body. An empty body is an empty object.
func decodeObject(body []byte) (fields, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fields{}, nil
	}
	var f fields
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if f == nil {
		f = fields{}
	}
	return f, nil
}

// object decodes a nested object field. Missing or null yields an empty set.
func (f fields) object(key string) (fields, error) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return fields{}, nil
	}
	var nested fields
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, key, err)
	}
	if nested == nil {
		nested = fields{}
	}
	return nested, nil
}

// reading builds the slot reading for key. ok is false when the key is absent.
func (f fields) reading(key string, slot int) (Reading, bool) {
	raw, present := f[key]
	if !present {
		return Reading{}, false
	}
	return readingFromRaw(raw, slot), true
}

func readingFromRaw(raw json.RawMessage, slot int) Reading {
	if isNull(raw) {
		return Reading{Slot: slot, Metadata: map[string]any{"state": StateNoSensor}}
	}
	v, ok := parseNumber(raw)
	if !ok {
		return Reading{Slot: slot, Metadata: map[string]any{"state": StateInvalid, "raw": string(raw)}}
	}
	return Reading{Slot: slot, Value: &v}
}

// number returns the numeric value of key, or nil when absent, null or not numeric.
func (f fields) number(key string) *float64 {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil
	}
	v, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	return &v
}

// integer returns the rounded integer value of key, or nil.
func (f fields) integer(key string) *int {
	v := f.number(key)
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}

// str returns the string value of key. Numbers are rendered as text so
// that firmware versions sent as 1.2 or "1.2" look the same.
func (f fields) str(key string) *string {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &s
	}
	if _, ok := parseNumber(raw); ok {
		s = string(bytes.TrimSpace(raw))
		return &s
	}
	return nil
}

// firstStr returns the first non-empty string among keys.
func (f fields) firstStr(keys ...string) string {
	for _, k := range keys {
		if s := f.str(k); s != nil {
			return *s
		}
	}
	return ""
}

// unixTime reads a unix-seconds timestamp, falling back when absent or invalid.
func (f fields) unixTime(key string, fallback time.Time) time.Time {
	v := f.number(key)
	if v == nil || *v <= 0 {
		return fallback
	}
	return time.Unix(int64(*v), 0).UTC()
}

// layoutTime reads a UTC timestamp in the given layout, falling back when
// absent or unparsable.
func (f fields) layoutTime(key, layout string, fallback time.Time) time.Time {
	s := f.str(key)
	if s == nil {
		return fallback
	}
	t, err := time.ParseInLocation(layout, *s, time.UTC)
	if err != nil {
		return fallback
	}
	return t
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), nullLiteral)
}

// parseNumber accepts JSON numbers and numeric strings.
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// collectReadings gathers readings for slotKeys in slot order.
func collectReadings(f fields, slotKeys []slotKey) []Reading {
	var readings []Reading
	for _, sk := range slotKeys {
		if r, ok := f.reading(sk.key, sk.slot); ok {
			readings = append(readings, r)
		}
	}
	return readings
}

// slotKey maps a vendor payload field to a physical slot.
type slotKey struct {
	key  string
	slot int
}

// newBatch returns a batch, or nil when there is nothing to persist.
func newBatch(recordedAt time.Time, readings []Reading) *Batch {
	if len(readings) == 0 {
		return nil
	}
	return &Batch{RecordedAt: recordedAt.UTC(), Readings: readings}
}

// receivedAt returns the receipt time of req, defaulting to now.
func receivedAt(req *Request) time.Time {
	if req == nil || req.ReceivedAt.IsZero() {
		return time.Now().UTC()
	}
	return req.ReceivedAt.UTC()
}

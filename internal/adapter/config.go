package adapter

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/nerrad567/loggergw/internal/device"
)

// Canonical configuration keys accepted from operators.
const (
	KeyRecordInterval = "record_interval" // seconds
	KeyUploadInterval = "upload_interval" // seconds
	KeyTempHigh       = "temp_high"       // degC
	KeyTempLow        = "temp_low"        // degC
	KeyHumidityHigh   = "humidity_high"   // %RH
	KeyHumidityLow    = "humidity_low"    // %RH
)

// CanonicalKeys lists the configuration vocabulary in command order.
func CanonicalKeys() []string {
	return []string{
		KeyRecordInterval,
		KeyUploadInterval,
		KeyTempHigh,
		KeyTempLow,
		KeyHumidityHigh,
		KeyHumidityLow,
	}
}

// checkKeys fails with an UnsupportedConfigError naming every key in config
// that is not in supported. An empty config is also rejected: there is
// nothing to send.
func checkKeys(vendor device.Vendor, config map[string]any, supported ...string) error {
	if len(config) == 0 {
		return &UnsupportedConfigError{Vendor: vendor, Reason: "empty configuration"}
	}

	allowed := make(map[string]struct{}, len(supported))
	for _, k := range supported {
		allowed[k] = struct{}{}
	}

	var bad []string
	for k := range config {
		if _, ok := allowed[k]; !ok {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return &UnsupportedConfigError{Vendor: vendor, Keys: bad}
}

// configNumber reads a numeric config value. Values arrive as float64 from
// stored JSON, as ints from Go callers, or occasionally as numeric strings.
func configNumber(vendor device.Vendor, config map[string]any, key string) (float64, error) {
	var f float64
	switch v := config[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, &UnsupportedConfigError{Vendor: vendor, Keys: []string{key}, Reason: "not a number"}
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, &UnsupportedConfigError{Vendor: vendor, Keys: []string{key}, Reason: "not a number"}
		}
		f = parsed
	default:
		return 0, &UnsupportedConfigError{Vendor: vendor, Keys: []string{key}, Reason: "not a number"}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &UnsupportedConfigError{Vendor: vendor, Keys: []string{key}, Reason: "not a finite number"}
	}
	return f, nil
}

// configInterval reads a positive whole-second interval.
func configInterval(vendor device.Vendor, config map[string]any, key string) (int, error) {
	f, err := configNumber(vendor, config, key)
	if err != nil {
		return 0, err
	}
	n := int(math.Round(f))
	if n <= 0 {
		return 0, &UnsupportedConfigError{Vendor: vendor, Keys: []string{key}, Reason: "must be positive"}
	}
	return n, nil
}

func formatThreshold(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

// roundThreshold keeps one decimal, matching what loggers display.
func roundThreshold(f float64) float64 {
	return math.Round(f*10) / 10
}

func hasKey(config map[string]any, key string) bool {
	_, ok := config[key]
	return ok
}

func unsupportedValue(vendor device.Vendor, key string, format string, args ...any) error {
	return &UnsupportedConfigError{Vendor: vendor, Keys: []string{key}, Reason: fmt.Sprintf(format, args...)}
}

package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	MeasurementReadings  = "sensor_readings"
	MeasurementTelemetry = "device_telemetry"
)

// ReadingPoint builds the point for one slot reading.
// Tags: device_uid, slot, sensor_type (empty type is omitted).
func ReadingPoint(deviceUID string, slot int, sensorType string, value float64, at time.Time) *write.Point {
	tags := map[string]string{
		"device_uid": deviceUID,
		"slot":       strconv.Itoa(slot),
	}
	if sensorType != "" {
		tags["sensor_type"] = sensorType
	}
	return write.NewPoint(
		MeasurementReadings,
		tags,
		map[string]interface{}{"value": value},
		at,
	)
}

// TelemetryPoint builds the point for per-batch device telemetry. It
// returns nil when the batch carried no telemetry.
func TelemetryPoint(deviceUID string, battery *float64, signal *int, at time.Time) *write.Point {
	fields := map[string]interface{}{}
	if battery != nil {
		fields["battery_voltage"] = *battery
	}
	if signal != nil {
		fields["signal_strength"] = *signal
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(
		MeasurementTelemetry,
		map[string]string{"device_uid": deviceUID},
		fields,
		at,
	)
}

// WriteReading writes a single slot reading at its device-reported time.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteReading("ABC123", 1, "temperature", 4.2, recordedAt)
func (c *Client) WriteReading(deviceUID string, slot int, sensorType string, value float64, at time.Time) {
	c.writePoint(ReadingPoint(deviceUID, slot, sensorType, value, at))
}

// WriteTelemetry writes battery and signal strength for a batch.
// Batches without telemetry write nothing.
func (c *Client) WriteTelemetry(deviceUID string, battery *float64, signal *int, at time.Time) {
	c.writePoint(TelemetryPoint(deviceUID, battery, signal, at))
}

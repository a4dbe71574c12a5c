// Package influxdb provides the optional InfluxDB mirror of ingested readings.
//
// SQLite stays the system of record. When influxdb.enabled is set, every
// reading that commits is also written to the sensor_readings measurement
// (tags site_id, device_uid, slot, sensor_type) so dashboards can query the
// time series without touching the gateway database.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Gateway.SiteID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the mirror
//	}
//	defer client.Close()
//
//	client.WriteReading("ABC123", 1, "temperature", 4.2, recordedAt)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes. Failed batches
// are logged and counted in Stats.
package influxdb

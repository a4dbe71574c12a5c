package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/loggergw/internal/device"
	"github.com/nerrad567/loggergw/internal/gateway"
	"github.com/nerrad567/loggergw/internal/infrastructure/influxdb"
)

// metricsQueryTimeout bounds the device count query.
const metricsQueryTimeout = 2 * time.Second

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	InfluxDB      InfluxDBMetrics `json:"influxdb"`
	Gateway       gateway.Stats   `json:"gateway"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// InfluxDBMetrics reports the readings mirror. Stats is nil when the
// mirror is disabled.
type InfluxDBMetrics struct {
	Enabled bool            `json:"enabled"`
	Stats   *influxdb.Stats `json:"stats,omitempty"`
}

// DeviceMetrics counts registered devices.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByVendor map[string]int `json:"by_vendor"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, transport and gateway counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Gateway: s.gateway.Stats(),
		Devices: DeviceMetrics{
			ByStatus: make(map[string]int),
			ByVendor: make(map[string]int),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Enabled:   true,
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.mirror != nil {
		stats := s.mirror.Stats()
		metrics.InfluxDB = InfluxDBMetrics{Enabled: true, Stats: &stats}
	}

	ctx, cancel := context.WithTimeout(r.Context(), metricsQueryTimeout)
	defer cancel()
	if devices, err := s.devices.List(ctx); err != nil {
		s.logger.Warn("metrics device count failed", "error", err)
	} else {
		countDevices(&metrics.Devices, devices)
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func countDevices(m *DeviceMetrics, devices []device.Device) {
	m.Total = len(devices)
	for i := range devices {
		m.ByStatus[string(devices[i].Status)]++
		if v := devices[i].Vendor(); v != "" {
			m.ByVendor[string(v)]++
		}
	}
}

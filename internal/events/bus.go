package events

import (
	"context"
	"time"

	"github.com/nerrad567/loggergw/internal/command"
	"github.com/nerrad567/loggergw/internal/device"
	"github.com/nerrad567/loggergw/internal/infrastructure/mqtt"
	"github.com/nerrad567/loggergw/internal/ingestion"
)

// WebSocket channels.
const (
	ChannelDeviceStatus  = "device.status_changed"
	ChannelReading       = "reading.ingested"
	ChannelConfigRequest = "config_request.changed"
)

// Logger is the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher publishes JSON events to the message bus.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Broadcaster sends an event to WebSocket clients subscribed to channel.
// deviceUID drives per-device filtering and may be empty.
type Broadcaster interface {
	Broadcast(channel, deviceUID string, payload any)
}

// DeviceLookup resolves the device a config request belongs to.
type DeviceLookup interface {
	GetByID(ctx context.Context, id string) (*device.Device, error)
}

// StatusEvent is published when a device goes online or offline.
type StatusEvent struct {
	SiteID     string        `json:"site_id,omitempty"`
	DeviceID   string        `json:"device_id"`
	DeviceUID  string        `json:"device_uid"`
	Vendor     device.Vendor `json:"vendor,omitempty"`
	Status     device.Status `json:"status"`
	LastSeenAt *time.Time    `json:"last_seen_at,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ReadingEvent is published for every batch committed by ingestion.
type ReadingEvent struct {
	SiteID    string                `json:"site_id,omitempty"`
	DeviceID  string                `json:"device_id"`
	DeviceUID string                `json:"device_uid"`
	Vendor    device.Vendor         `json:"vendor,omitempty"`
	Batch     ingestion.StoredBatch `json:"batch"`
}

// ConfigEvent is published after a configuration request changes status.
type ConfigEvent struct {
	SiteID    string           `json:"site_id,omitempty"`
	DeviceUID string           `json:"device_uid,omitempty"`
	Request   *command.Request `json:"request"`
	Timestamp time.Time        `json:"timestamp"`
}

// Bus routes domain events to MQTT and WebSocket.
//
// Thread Safety:
//   - Safe for concurrent use once configured. Setters must be called
//     before the bus is handed to other components.
type Bus struct {
	publisher Publisher
	topics    mqtt.Topics
	hub       Broadcaster
	devices   DeviceLookup
	site      string
	logger    Logger

	// now is replaced in tests.
	now func() time.Time
}

// NewBus creates a bus that resolves device UIDs through devices.
func NewBus(devices DeviceLookup, topics mqtt.Topics) *Bus {
	return &Bus{
		topics:  topics,
		devices: devices,
		logger:  noopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// SetSiteID tags every event with the gateway's site.
func (b *Bus) SetSiteID(id string) {
	b.site = id
}

// SetPublisher sets the MQTT publisher. Nil disables MQTT fan-out.
func (b *Bus) SetPublisher(p Publisher) {
	b.publisher = p
}

// SetHub sets the WebSocket broadcaster. Nil disables WebSocket fan-out.
func (b *Bus) SetHub(h Broadcaster) {
	b.hub = h
}

// DeviceStatusChanged implements device.StatusListener.
// Status messages are retained so late subscribers see the current state.
func (b *Bus) DeviceStatusChanged(_ context.Context, d *device.Device, status device.Status) {
	if d == nil {
		return
	}
	ev := StatusEvent{
		SiteID:     b.site,
		DeviceID:   d.ID,
		DeviceUID:  d.UID,
		Vendor:     d.Vendor(),
		Status:     status,
		LastSeenAt: d.LastSeenAt,
		Timestamp:  b.now(),
	}
	b.publish(b.topics.DeviceStatus(d.UID), ev, true)
	b.broadcast(ChannelDeviceStatus, d.UID, ev)
}

// ReadingsIngested implements ingestion.Listener.
func (b *Bus) ReadingsIngested(_ context.Context, d *device.Device, batches []ingestion.StoredBatch) {
	if d == nil {
		return
	}
	topic := b.topics.DeviceReadings(d.UID)
	for _, batch := range batches {
		ev := ReadingEvent{
			SiteID:    b.site,
			DeviceID:  d.ID,
			DeviceUID: d.UID,
			Vendor:    d.Vendor(),
			Batch:     batch,
		}
		b.publish(topic, ev, false)
		b.broadcast(ChannelReading, d.UID, ev)
	}
}

// ConfigRequestChanged implements command.Listener.
// The MQTT message is skipped when the owning device cannot be resolved,
// because the topic is keyed by UID.
func (b *Bus) ConfigRequestChanged(ctx context.Context, r *command.Request) {
	if r == nil {
		return
	}
	ev := ConfigEvent{SiteID: b.site, Request: r, Timestamp: b.now()}

	if b.devices != nil {
		d, err := b.devices.GetByID(ctx, r.DeviceID)
		if err != nil {
			b.logger.Warn("config event for unresolvable device",
				"request_id", r.ID,
				"device_id", r.DeviceID,
				"error", err,
			)
		} else {
			ev.DeviceUID = d.UID
		}
	}

	if ev.DeviceUID != "" {
		b.publish(b.topics.DeviceConfig(ev.DeviceUID), ev, false)
	}
	b.broadcast(ChannelConfigRequest, ev.DeviceUID, ev)
}

func (b *Bus) publish(topic string, v any, retained bool) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.PublishJSON(topic, v, retained); err != nil {
		b.logger.Warn("event publish failed", "topic", topic, "error", err)
		return
	}
	b.logger.Debug("event published", "topic", topic)
}

func (b *Bus) broadcast(channel, deviceUID string, v any) {
	if b.hub == nil {
		return
	}
	b.hub.Broadcast(channel, deviceUID, v)
}

package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "loggergw"

// Topics builds the gateway's MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("loggergw")
//	topics.DeviceReadings("ABC123")
//	// Returns: "loggergw/readings/ABC123"
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder for prefix. Trailing slashes are
// trimmed and an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// GatewayStatus returns the retained online/offline topic of the gateway itself.
//
// Example: loggergw/system/status
func (t Topics) GatewayStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix())
}

// DeviceStatus returns the topic for device online/offline transitions.
//
// Example: loggergw/status/ABC123
func (t Topics) DeviceStatus(deviceUID string) string {
	return fmt.Sprintf("%s/status/%s", t.Prefix(), deviceUID)
}

// DeviceReadings returns the topic for ingested reading batches.
//
// Example: loggergw/readings/ABC123
func (t Topics) DeviceReadings(deviceUID string) string {
	return fmt.Sprintf("%s/readings/%s", t.Prefix(), deviceUID)
}

// DeviceConfig returns the topic for config request state changes.
//
// Example: loggergw/config/ABC123
func (t Topics) DeviceConfig(deviceUID string) string {
	return fmt.Sprintf("%s/config/%s", t.Prefix(), deviceUID)
}

// DeadLetter returns the topic that receives payloads a vendor's devices
// repeatedly failed to ingest.
//
// Example: loggergw/deadletter/tzone
func (t Topics) DeadLetter(vendor string) string {
	return fmt.Sprintf("%s/deadletter/%s", t.Prefix(), vendor)
}

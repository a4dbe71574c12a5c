// Package events fans gateway state changes out to the MQTT bus and the
// operator WebSocket hub.
//
// A single Bus implements the listener interfaces of the device, command and
// ingestion packages, so those packages never import a transport:
//
//	device status   -> <prefix>/status/<uid>   (retained), "device.status_changed"
//	stored batches  -> <prefix>/readings/<uid>,            "reading.ingested"
//	config requests -> <prefix>/config/<uid>,              "config_request.changed"
//
// Both sinks are optional. Publish failures are logged and never propagate
// back into the check-in path.
package events

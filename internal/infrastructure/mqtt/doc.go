// Package mqtt provides the gateway's MQTT event bus client.
//
// The gateway is the only writer on its topic tree:
//
//	<prefix>/system/status          retained gateway online/offline (LWT)
//	<prefix>/status/<device_uid>    retained device online/offline
//	<prefix>/readings/<device_uid>  every ingested reading batch
//	<prefix>/config/<device_uid>    config request state changes
//	<prefix>/deadletter/<vendor>    payloads that repeatedly failed ingestion
//
// MQTT is optional. Connect returns ErrDisabled when mqtt.enabled is false
// and the gateway keeps serving devices without a bus.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().DeviceStatus("ABC123"), event, true)
package mqtt

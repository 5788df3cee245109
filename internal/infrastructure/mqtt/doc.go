// Package mqtt provides MQTT connectivity for the garden core.
//
// Readings, device output state and provisioning progress are mirrored to
// the broker so other consumers (dashboards, automations) can follow the
// fleet without polling the HTTP API. Text commands published to a
// device's command topic are relayed to the node over UDP.
//
// The client reconnects with backoff and restores its subscriptions. A
// retained online/offline status with a Last Will covers crash detection.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Reading(cfg.Site.ID, "aa:bb:cc:dd:ee:ff")
//	client.PublishJSON(topic, map[string]float64{"volts": 1.82}, false)
package mqtt

// Package api implements the HTTP REST API and WebSocket server for the
// garden core.
//
// This package provides:
//   - Device endpoints backed by the in-memory registry (list, logs, live
//     status, output state)
//   - Output and text commands forwarded to nodes over UDP
//   - Provisioning run triggers and run history
//   - A WebSocket hub broadcasting readings and provisioning progress
//   - Prometheus scrape endpoint and a JSON system snapshot
//
// # WebSocket
//
// Clients connect to /api/v1/ws and receive a welcome frame listing the
// channels. A subscribe frame selects channels and may narrow the
// per-device channels to a set of identities:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["reading"],"devices":["aa:bb:cc:dd:ee:ff"]}}
//
// Events arrive as {"type":"event","event_type":"reading","payload":{...}}.
// A client that falls behind loses events rather than stalling the hub.
//
// # Graceful Degradation
//
// The server runs without MQTT, InfluxDB or a provisioner. Endpoints that
// need a missing backend answer 503; everything else keeps working.
package api

// Package relay fans telemetry and provisioning events out to the
// optional consumers of the core: the MQTT bus, InfluxDB, WebSocket
// clients and the SQLite history tables.
//
// Every sink is optional. A missing sink is skipped and a failing sink
// is logged without affecting the others.
//
// The relay also subscribes to per-device command topics on MQTT and
// forwards them to the telemetry server.
package relay

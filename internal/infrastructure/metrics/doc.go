// Package metrics exposes Prometheus collectors for the telemetry server,
// the provisioning workflow and the HTTP API.
package metrics

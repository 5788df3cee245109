package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReading      = "sensor_readings"
	MeasurementOutputState  = "device_output"
	MeasurementProvisioning = "provisioning_runs"
)

// WriteReading records one moisture reading, tagged by device identity.
func (c *Client) WriteReading(identity string, volts float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(identity, volts, at))
}

// WriteOutputState records a change of a device's control output.
func (c *Client) WriteOutputState(identity, state string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(outputStatePoint(identity, state, at))
}

// WriteProvisioningOutcome records the result of one provisioning run.
func (c *Client) WriteProvisioningOutcome(runID, identity string, success bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(provisioningPoint(runID, identity, success, at))
}

func readingPoint(identity string, volts float64, at time.Time) *write.Point {
	return write.NewPoint(MeasurementReading,
		map[string]string{"identity": identity},
		map[string]any{"volts": volts},
		at,
	)
}

func outputStatePoint(identity, state string, at time.Time) *write.Point {
	high := 0
	if state == "HIGH" {
		high = 1
	}
	return write.NewPoint(MeasurementOutputState,
		map[string]string{"identity": identity},
		map[string]any{"state": state, "high": high},
		at,
	)
}

func provisioningPoint(runID, identity string, success bool, at time.Time) *write.Point {
	tags := map[string]string{"success": "false"}
	if success {
		tags["success"] = "true"
	}
	return write.NewPoint(MeasurementProvisioning, tags,
		map[string]any{"run_id": runID, "identity": identity},
		at,
	)
}

// Package influxdb records sensor history in InfluxDB.
//
// Every forwarded moisture reading becomes a point in sensor_readings,
// tagged by device identity; output-state changes and provisioning outcomes
// are written alongside so a dashboard can plot them on the same timeline.
// Writes are batched and never block the telemetry receive loop.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history not recorded
//	}
//	defer client.Close()
//
//	client.WriteReading("aa:bb:cc:dd:ee:ff", 1.82, time.Now())
package influxdb

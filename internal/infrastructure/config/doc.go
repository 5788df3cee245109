// Package config handles loading and validating the garden core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GARDEN_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// A missing file at the default location is not an error when loaded through
// LoadOrDefault; the defaults then apply, still subject to environment overrides.
//
// Broker and InfluxDB credentials should be supplied through the environment
// rather than committed to the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Telemetry.Port)
package config

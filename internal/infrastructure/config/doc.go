// Package config handles loading and validating launchdeck configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - The built-in process type catalog
//   - Watching the file for process type changes
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, pt := range cfg.ProcessTypes {
//	    fmt.Println(pt.Name)
//	}
package config

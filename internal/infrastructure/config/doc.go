// Package config handles loading and validating Span Bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of endpoints and forwarding rules
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Passwords are redacted in String() and JSON output
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - The Config is read-only after validation; no locking required
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Endpoints.A.Host)
package config

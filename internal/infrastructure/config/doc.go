// Package config handles loading and validating the cell controller configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CELLCORE_* environment variables
//   - Validation of required fields, coil maps and policies
//   - Default value handling (the reference conveyor cell)
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The JWT secret must be set before the API is exposed
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Cell.EquipmentID)
package config

// Package config loads and validates geniebridge configuration.
//
// Configuration comes from a YAML file, is overlaid with GENIEBRIDGE_*
// environment variables, and is then validated as a whole so a single start
// reports every problem at once.
//
// Secrets (JWT secret, MQTT password, InfluxDB token) should be supplied via
// the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Genie.Mode)
package config

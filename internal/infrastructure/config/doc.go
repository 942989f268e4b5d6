// Package config loads and validates the Timerly daemon configuration.
//
// Values are resolved in this order:
//   - built-in defaults (15s polling, 5s timeouts, failure threshold 2)
//   - the YAML file
//   - an optional .env file in the working directory
//   - TIMERLY_* environment variables
//
// Secrets (MQTT password, InfluxDB token, JWT secret) belong in the
// environment rather than the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.GetPollInterval())
package config

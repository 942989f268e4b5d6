// Package logging provides structured logging for the Timerly daemon.
//
// It wraps log/slog so every record carries the service name and build
// version. JSON output is the default; text output is meant for development.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("discovery").Info("device added", "name", "Office TV")
//
// Never log the JWT secret, MQTT password or InfluxDB token.
package logging

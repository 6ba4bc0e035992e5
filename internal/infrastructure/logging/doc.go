// Package logging provides structured logging for geniebridge.
//
// It wraps log/slog so every record carries the service name and version:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("genie request", "namespace", ns)
//
// Access tokens double as REST credentials, so they must only be logged
// through Redact.
package logging

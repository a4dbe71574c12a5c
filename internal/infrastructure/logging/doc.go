// Package logging provides structured logging for the logger gateway.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way: JSON in production, text in development, and the service
// name and build version on every entry.
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("gateway").Warn("unknown device", "device_uid", uid)
//
// Device payloads are logged by size only; never log JWTs or broker credentials.
package logging

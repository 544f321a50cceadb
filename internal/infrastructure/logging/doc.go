// Package logging provides structured logging for the dispenser core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
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
//	logger.Info("config saved", "device", logging.RedactID(deviceID))
//
// # Security
//
// Never log Wi-Fi passwords, session tokens or full device ids.
// Use RedactID for device identifiers.
package logging

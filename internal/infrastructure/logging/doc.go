// Package logging provides structured logging for lnharness.
//
// It wraps log/slog with JSON or text output, level filtering, and
// default service and version attributes on every record. The auto format
// picks text when the output is a terminal and JSON otherwise, so CI logs
// stay machine-readable.
//
// Configuration:
//
//	logging:
//	  level: "info"     # debug, info, warn, error
//	  format: "auto"    # auto, json, text
//	  output: "stderr"  # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	launcher.SetLogger(logger.With("component", "lightningd"))
//
// Never log the MQTT password, InfluxDB token or bitcoind RPC password.
package logging

// Package logging provides structured logging for launchdeck.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("supervisor").Info("instance started", "type", "Ollama", "id", 1)
//
// Captured child output is never routed through this logger; it goes to
// the per-instance output logs instead.
package logging

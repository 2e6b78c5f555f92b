// Package logging provides structured logging for the LwM2M gateway.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the gateway and the emulated client.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error or 0-5
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting gateway", "coap_port", 5683)
//	logger.Error("push failed", "error", err)
//
// Never log callback headers verbatim; they commonly carry credentials.
package logging

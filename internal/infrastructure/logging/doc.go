// Package logging provides structured logging for the cell controller.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields (service, version) and a component tag.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: "/var/log/cellcore.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("control").Info("run mode changed", "from", "RUN", "to", "STOP")
//
// Never log secrets, tokens or passwords.
package logging

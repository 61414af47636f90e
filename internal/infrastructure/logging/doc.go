// Package logging provides structured logging for correo on top of log/slog.
//
// Output is JSON by default and text for development. Every line carries
// service=correo and the build version. Components receive a child logger
// from Component so their lines can be filtered:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
//	logger := logging.New(cfg.Logging, version)
//	tracker.SetLogger(logger.Component("connection"))
//
// Keys are snake_case (connection_id, event_type, error). Never log broker
// passwords or API tokens.
package logging

// Package logging configures the log/slog loggers used by the server.
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.ParseLevel("debug"),
//	    Format: logging.FormatJSON,
//	})
//	logger.Info("listening", "addr", ":4000")
//
// Components accept a *slog.Logger through an option and fall back to Nop.
// Connection-scoped loggers carry the connectionId and protocol attributes;
// see ForConnection.
package logging

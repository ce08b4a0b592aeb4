// Package log provides logsrd's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that routes records through a
// formatter and a set of outputs, so every component logs the same way.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("persist"), log.Str("file", "global-hot.log"))
//	l.Info("scan complete", log.Int64("bytes", 131072))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or text formatting. Redaction of keys and per-message sampling are applied
// as slog handler wrappers.
//
// # Interop
//
// To integrate with libraries expecting *log.Logger (Pebble logs through the
// standard library), use ToStdLogger or RedirectStdLog.
package log

// Package logging provides structured logging for meshbridge.
//
// It wraps log/slog with service defaults and config-driven level, format,
// and destination selection. Components that want optional logging accept a
// minimal Logger interface satisfied by this package's Logger.
package logging

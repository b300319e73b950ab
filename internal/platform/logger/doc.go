// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Components derive their loggers from the one
// returned by Setup and add a component attribute.
package logger

// Package logging assembles structured slog loggers used across framecut.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so bridge code can tag log lines
// with request IDs, operation kinds and execution context generations. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging

// Package session tracks engine readiness for one execution context and
// guarantees the engine is initialized at most once per context lifetime.
//
// Concurrent Ensure calls share a single in-flight load; every caller sees the
// same outcome and every load log line. A failed load leaves the machine
// unloaded so the next Ensure retries from scratch. Reset returns the machine
// to unloaded when the context is torn down and fails any load still running
// against the old context.
package session

// Package workerctx owns the isolated execution context that hosts the media
// engine: a child process speaking the JSON-lines protocol on stdin/stdout with
// a private scratch directory.
//
// A Manager holds at most one live Context. Contexts are created lazily by
// Acquire, torn down by Terminate or by the process exiting, and replaced on
// the next Acquire. Every teardown is reported to the Events sink exactly once
// and before the process is killed, so pending work can be force-failed
// instead of silently dropped.
package workerctx

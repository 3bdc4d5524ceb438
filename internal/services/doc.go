// Package services defines shared utilities consumed by the bridge, the engine
// host and the presentation surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp request IDs, operation kinds, and execution
//     context generations for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the failure taxonomy reported through status updates.
//
// Use these helpers when wiring new command logic so operational behaviour
// (error handling, observability) stays uniform across the bridge.
package services

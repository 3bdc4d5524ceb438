// Package bridge is the client side of the media engine: it owns one execution
// context, gates every command on a successful engine load, correlates worker
// events with the call that caused them and enforces a wall-clock budget per
// operation.
//
// Every failure is delivered twice: as the error returned from Wait (or the
// blocking helpers) and as a terminal StatusError update pushed to the
// operation's UpdateFunc. Calls are correlated by request id, so overlapping
// operations on one Client never observe each other's events.
//
// Timeouts and explicit termination are destructive. The execution context is
// torn down, every operation bound to it fails and the engine must be loaded
// again before the next command runs.
package bridge

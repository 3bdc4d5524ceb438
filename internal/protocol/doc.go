// Package protocol defines the JSON-lines messages exchanged between the bridge
// and the worker process hosting the media engine.
//
// Every message is a single JSON object terminated by a newline. Messages that
// belong to a call carry that call's request id; the bridge routes inbound
// events by id so overlapping calls never observe each other's progress.
package protocol

// Package api exposes the bridge over HTTP for presentation layers.
//
// # Routes
//
//	GET    /health                     liveness and uptime
//	GET    /status                     session state, pending work, artifacts
//	POST   /load                       load the engine ahead of the first command
//	POST   /trim, /frames, /convert    multipart "file" plus settings fields
//	POST   /merge                      multipart "clip" files with start/end
//	GET    /operations/{id}            last update, result or error
//	GET    /operations/{id}/updates    websocket stream of every update
//	POST   /operations/{id}/cancel     best-effort engine cancel
//	GET    /artifacts/{id}/{name}      produced bytes, with Range support
//	DELETE /artifacts/{id}             deferred release of a result
//	POST   /terminate                  tear down the execution context
//	GET    /history                    recorded export outcomes
//
// Command endpoints answer 202 with the operation id as soon as the command is
// submitted; progress is observed through the operation routes. Uploads are
// streamed to disk and removed once the operation settles.
//
// Errors use {"error": message, "code": kind} where kind is the failure
// taxonomy name (Validation, Timeout, ...) or a transport code.
package api

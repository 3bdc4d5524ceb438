// Package preflight provides readiness checks for the filesystem paths and
// engine binaries framecut depends on.
//
// These checks run in two contexts:
//   - `framecut serve` calls RunAll before opening the bridge and refuses to
//     start when the work directory is unusable.
//   - `framecut doctor` renders every result, together with the engine
//     version probe, as a table.
package preflight

// Package artifact turns engine output bytes into export results and serves
// them at addressable URLs.
//
// Materialize copies every buffer it is given, so results stay valid after the
// execution context reuses its scratch space. The Store maps URLs onto those
// copies, serves them with the kind's media type and byte-range support, and
// defers release by a grace delay so a read in progress is never cut short.
package artifact

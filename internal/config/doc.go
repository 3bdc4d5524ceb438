// Package config loads, normalizes, and validates framecut configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours FRAMECUT_* environment overrides.
// The Config type centralizes every knob the bridge, server and CLI need,
// including the engine timeouts and the convert quality table.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

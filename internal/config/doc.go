// Package config loads, normalizes, and validates cyclemetry configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// CYCLEMETRY_HTTP_URL. The Config type centralizes every knob the session and
// CLI need: backend endpoints, probe and debounce timings, state and log
// directories.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, positive intervals, and clear validation errors.
package config

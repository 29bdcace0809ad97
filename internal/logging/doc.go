// Package logging assembles structured slog loggers and formatting helpers used
// across the cyclemetry runtime.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so transport and render code can
// automatically tag log lines with request and session identifiers. The package
// also provides a no-op logger for tests and wiring code that cannot fail, and a
// progress sampler that keeps render progress logs readable.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging

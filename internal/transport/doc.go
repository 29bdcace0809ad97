// Package transport carries every backend call over one of two channels: the
// desktop-shell bridge (IPC) when it reports the backend socket ready, or the
// loopback HTTP endpoint otherwise. The Dispatcher selects the channel per call,
// never falls back from IPC to HTTP once IPC was chosen, and normalizes every
// failure into *Error so callers can branch on busy, backend, and transport
// outcomes with errors.Is.
package transport

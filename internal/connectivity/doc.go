// Package connectivity tracks whether the rendering backend is reachable.
//
// Tracker is a pure state machine over probe outcomes with hysteresis: a
// backend that has never answered gets many failed probes before it is
// declared unreachable, one that was connected gets few. Monitor drives a
// Tracker from a periodic health probe and publishes aggregated changes only.
package connectivity

// Package ipc implements the desktop-shell bridge: a JSON-RPC service on a Unix
// domain socket that forwards named backend commands to the rendering backend,
// plus the matching client used by the transport's IPC channel.
//
// The server owns socket lifecycle management and the command table that maps
// each bridge command onto the backend's HTTP-over-unix-socket routes. It reports
// readiness as "the backend socket exists", returns image bytes as data URLs,
// and re-encodes uploads as multipart forms. The client decorates calls with
// context deadlines so callers fail fast when the shell is gone.
//
// Reuse these types when adding new commands to keep the protocol stable.
package ipc

// Package session assembles the runtime: configuration, the persisted state
// cache, the transport stack, the connectivity monitor, the document store,
// the preview pipeline and the render controller.
//
// Commands that mutate editor state take the session lock so two processes
// never interleave writes to the state cache.
package session

// Command cyclemetry drives the overlay editor runtime from the terminal.
//
// Every invocation opens a session over the persisted editor state, talks to
// the rendering backend through the desktop bridge or the HTTP loopback, and
// exits. Commands that change editor state hold the session lock for their
// duration; read-only commands do not.
package main

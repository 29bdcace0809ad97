// Package services defines the shared error taxonomy and context helpers used
// by the transport, preview, and render components.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper so failures carry the
//     component and operation that produced them while staying classifiable
//     with errors.Is (transport, backend, busy, precondition).
//   - Context helpers that stamp request and session identifiers for logging
//     and for the X-Request-ID header forwarded to the backend.
//
// Use these helpers when adding new backend operations so error handling and
// observability stay uniform across the runtime.
package services

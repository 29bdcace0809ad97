// Package preview turns unrendered document changes into single-frame
// preview requests.
//
// At most one request is in flight. Requests that arrive while one is running
// are dropped rather than queued; when the running request completes and the
// store is dirty again, the auto-trigger re-evaluates, so the preview is never
// more than one request stale.
package preview

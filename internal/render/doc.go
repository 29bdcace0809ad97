// Package render runs one full overlay video render at a time.
//
// Controller.Start validates the request locally and rejects it without any
// network call when a job is already active, the backend is not connected, or
// the document has no usable time window. An accepted job issues the
// blocking render call in the background and polls render progress until a
// terminal status is observed. Cancellation is cooperative: Cancel asks the
// backend to stop and the job ends when progress reports it.
package render

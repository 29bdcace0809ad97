// Package document owns the overlay document and the editable timeline.
//
// The document and the timeline describe the same time window and can be
// edited from two directions: the structured editor rewrites the document,
// the timeline handles rewrite scene.start and scene.end. Each direction arms
// a short guard so its write does not echo back as an edit from the other
// side. Drags and typed values are held as pending edits and committed on
// drag end or after the input debounce, at which point the clamp rules in
// Timeline.Commit restore the at-rest invariants.
//
// Every committed mutation is written through to a Persister, one key per
// field, so a failed write only loses that field.
package document

package transport

import "context"

// Request is the channel-neutral payload of one call.
type Request struct {
	// Body is JSON-encoded for POST operations. Nil sends an empty object.
	Body any
	// Filename addresses file operations (images, templates).
	Filename string
	// Upload carries activity bytes for OpUploadActivity.
	Upload *Upload
}

// Upload is a file sent to the backend.
type Upload struct {
	Filename string
	Data     []byte
}

// Response is the raw backend reply.
type Response struct {
	Channel     string
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Channel carries calls to the backend.
type Channel interface {
	Name() string
	Call(ctx context.Context, op Operation, req Request) (*Response, error)
}

// ReadyChannel is a channel that can report whether it is usable right now.
type ReadyChannel interface {
	Channel
	Ready(ctx context.Context) (bool, error)
}

package backend

import "encoding/json"

// Status values reported by the render-progress route.
const (
	RenderIdle      = "idle"
	RenderRendering = "rendering"
	RenderComplete  = "complete"
	RenderError     = "error"
	RenderCancelled = "cancelled"
)

// Health is the health probe reply. Ready is false while the backend is still
// loading its rendering libraries.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Ready   bool   `json:"ready"`
}

// FrameRequest asks for one preview frame.
type FrameRequest struct {
	Document any
	Activity string
	Second   int
}

// Frame is the generated preview image.
type Frame struct {
	Filename string `json:"filename"`
}

// RenderRequest asks for the full overlay video.
type RenderRequest struct {
	Document any
	Activity string
}

// RenderResult is the reply of a finished render call.
type RenderResult struct {
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// Progress is one render-progress poll. Frame counts are numbers because the
// backend derives them from a possibly fractional fps.
type Progress struct {
	Current                   float64 `json:"current"`
	Total                     float64 `json:"total"`
	Status                    string  `json:"status"`
	Message                   string  `json:"message"`
	EstimatedSecondsRemaining *int    `json:"estimated_seconds_remaining"`
	Encoded                   float64 `json:"encoded"`
}

// Activity describes an uploaded or loaded activity track.
type Activity struct {
	Data            string `json:"data"`
	Filename        string `json:"filename"`
	DurationSeconds int    `json:"duration_seconds"`
	HasData         bool   `json:"has_data"`
	// Warning is set when the upload succeeded but analysis failed.
	Warning string `json:"error,omitempty"`
}

// Template is one entry of the template catalogue.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// SavedTemplate is the reply of save-template.
type SavedTemplate struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// Ack is the reply of fire-and-forget commands.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type frameBody struct {
	Config      string `json:"config"`
	GPXFilename string `json:"gpx_filename"`
	Second      int    `json:"second"`
}

type renderBody struct {
	Config      string `json:"config"`
	GPXFilename string `json:"gpx_filename"`
}

type saveTemplateBody struct {
	Config   json.RawMessage `json:"config"`
	Filename string          `json:"filename"`
}

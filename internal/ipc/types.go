package ipc

import "encoding/json"

// ServiceName is the JSON-RPC service registered by the bridge.
const ServiceName = "Bridge"

// Bridge commands. Names follow the desktop shell's invoke handlers.
const (
	CommandHealth        = "backend_health"
	CommandDemo          = "backend_demo"
	CommandRender        = "backend_render"
	CommandProgress      = "backend_progress"
	CommandCancel        = "backend_cancel"
	CommandOpenDownloads = "backend_open_downloads"
	CommandOpenVideo     = "backend_open_video"
	CommandUpload        = "backend_upload"
	CommandLoadGPX       = "backend_load_gpx"
	CommandImageData     = "backend_image_data"
	CommandListTemplates = "backend_list_templates"
	CommandGetTemplate   = "backend_get_template"
	CommandSaveTemplate  = "backend_save_template"
	CommandOpenTemplates = "backend_open_templates"
)

// SocketReadyRequest asks whether the backend socket is reachable.
type SocketReadyRequest struct{}

// SocketReadyResponse reports backend socket readiness.
type SocketReadyResponse struct {
	Ready      bool   `json:"ready"`
	SocketPath string `json:"socket_path"`
}

// InvokeRequest forwards one command to the backend. Args is the JSON body for
// POST commands; file commands read "filename" from it.
type InvokeRequest struct {
	Command   string          `json:"command"`
	Args      json.RawMessage `json:"args,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// InvokeResponse carries the backend reply verbatim.
type InvokeResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// FileArgs names a backend file for template and image commands.
type FileArgs struct {
	Filename string `json:"filename"`
}

// UploadArgs carries an activity file for CommandUpload.
type UploadArgs struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

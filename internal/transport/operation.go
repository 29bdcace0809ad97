package transport

import (
	"net/http"

	"cyclemetry/internal/ipc"
)

// Operation names a backend call independent of the channel carrying it.
type Operation string

const (
	OpHealth         Operation = "health"
	OpGenerateFrame  Operation = "generate-frame"
	OpRenderVideo    Operation = "render-video"
	OpRenderProgress Operation = "render-progress"
	OpCancelRender   Operation = "cancel-render"
	OpOpenDownloads  Operation = "open-downloads"
	OpOpenVideo      Operation = "open-video"
	OpUploadActivity Operation = "upload-activity"
	OpLoadActivity   Operation = "load-activity"
	OpImageData      Operation = "image-data"
	OpListTemplates  Operation = "list-templates"
	OpFetchTemplate  Operation = "fetch-template"
	OpSaveTemplate   Operation = "save-template"
	OpOpenTemplates  Operation = "open-templates"
)

type route struct {
	command string
	method  string
	path    string
	// file routes append the escaped Request.Filename to path.
	file bool
	// untimed routes block for the whole job and get no client timeout.
	untimed bool
}

var routes = map[Operation]route{
	OpHealth:         {command: ipc.CommandHealth, method: http.MethodGet, path: "/api/health"},
	OpGenerateFrame:  {command: ipc.CommandDemo, method: http.MethodPost, path: "/api/demo"},
	OpRenderVideo:    {command: ipc.CommandRender, method: http.MethodPost, path: "/api/render-video", untimed: true},
	OpRenderProgress: {command: ipc.CommandProgress, method: http.MethodGet, path: "/api/render-progress"},
	OpCancelRender:   {command: ipc.CommandCancel, method: http.MethodPost, path: "/api/cancel-render"},
	OpOpenDownloads:  {command: ipc.CommandOpenDownloads, method: http.MethodPost, path: "/api/open-downloads"},
	OpOpenVideo:      {command: ipc.CommandOpenVideo, method: http.MethodPost, path: "/api/open-video"},
	OpUploadActivity: {command: ipc.CommandUpload, method: http.MethodPost, path: "/upload"},
	OpLoadActivity:   {command: ipc.CommandLoadGPX, method: http.MethodPost, path: "/api/load-gpx"},
	OpImageData:      {command: ipc.CommandImageData, method: http.MethodGet, path: "/images/", file: true},
	OpListTemplates:  {command: ipc.CommandListTemplates, method: http.MethodGet, path: "/api/templates"},
	OpFetchTemplate:  {command: ipc.CommandGetTemplate, method: http.MethodGet, path: "/templates/", file: true},
	OpSaveTemplate:   {command: ipc.CommandSaveTemplate, method: http.MethodPost, path: "/api/save-template"},
	OpOpenTemplates:  {command: ipc.CommandOpenTemplates, method: http.MethodPost, path: "/api/open-templates"},
}

// Known reports whether op is a supported operation.
func Known(op Operation) bool {
	_, ok := routes[op]
	return ok
}

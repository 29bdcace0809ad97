package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Backend is a programmable stand-in for the rendering backend. Each route has
// a default handler that any test may replace with Handle.
type Backend struct {
	*httptest.Server

	mu        sync.Mutex
	overrides map[string]http.HandlerFunc
	calls     map[string]int
	bodies    map[string][]byte
	healthy   bool
	ready     bool
	progress  []map[string]any
	templates map[string]json.RawMessage
	uploads   map[string][]byte
}

// Route keys accepted by Handle and Calls.
const (
	RouteHealth         = "GET /api/health"
	RouteDemo           = "POST /api/demo"
	RouteRenderVideo    = "POST /api/render-video"
	RouteRenderProgress = "GET /api/render-progress"
	RouteCancelRender   = "POST /api/cancel-render"
	RouteOpenDownloads  = "POST /api/open-downloads"
	RouteOpenVideo      = "POST /api/open-video"
	RouteUpload         = "POST /upload"
	RouteLoadGPX        = "POST /api/load-gpx"
	RouteImage          = "GET /images/{filename}"
	RouteListTemplates  = "GET /api/templates"
	RouteGetTemplate    = "GET /templates/{filename}"
	RouteSaveTemplate   = "POST /api/save-template"
	RouteOpenTemplates  = "POST /api/open-templates"
)

// NewBackend starts a fake backend that is healthy and ready.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		overrides: make(map[string]http.HandlerFunc),
		calls:     make(map[string]int),
		bodies:    make(map[string][]byte),
		healthy:   true,
		ready:     true,
		templates: map[string]json.RawMessage{
			"default_template.json": json.RawMessage(`{"scene":{"width":1920,"height":1080,"fps":30,"start":0,"end":120},"labels":[],"values":[],"plots":[]}`),
		},
		uploads: make(map[string][]byte),
	}

	r := chi.NewRouter()
	b.route(r, RouteHealth, b.health)
	b.route(r, RouteDemo, b.demo)
	b.route(r, RouteRenderVideo, b.renderVideo)
	b.route(r, RouteRenderProgress, b.renderProgress)
	b.route(r, RouteCancelRender, b.cancelRender)
	b.route(r, RouteOpenDownloads, message("Folder opened"))
	b.route(r, RouteOpenVideo, message("Video opened"))
	b.route(r, RouteUpload, b.upload)
	b.route(r, RouteLoadGPX, b.loadGPX)
	b.route(r, RouteImage, b.image)
	b.route(r, RouteListTemplates, b.listTemplates)
	b.route(r, RouteGetTemplate, b.getTemplate)
	b.route(r, RouteSaveTemplate, b.saveTemplate)
	b.route(r, RouteOpenTemplates, message("Templates folder opened"))

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

func (b *Backend) route(r chi.Router, key string, def http.HandlerFunc) {
	method, pattern, _ := strings.Cut(key, " ")
	r.MethodFunc(method, pattern, func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(strings.NewReader(string(body)))
		b.mu.Lock()
		b.calls[key]++
		b.bodies[key] = body
		h := b.overrides[key]
		b.mu.Unlock()
		if h == nil {
			h = def
		}
		h(w, req)
	})
}

// Handle replaces the handler for a route key such as RouteDemo.
func (b *Backend) Handle(key string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[key] = h
}

// Calls returns how many requests reached a route.
func (b *Backend) Calls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

// TotalCalls returns the number of requests across all routes.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// LastBody decodes the last JSON body sent to a route.
func (b *Backend) LastBody(t testing.TB, key string) map[string]any {
	t.Helper()
	b.mu.Lock()
	raw := b.bodies[key]
	b.mu.Unlock()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s body %q: %v", key, raw, err)
	}
	return out
}

// SetHealthy toggles the health route between 200 and 503.
func (b *Backend) SetHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
}

// SetReady sets the ready flag reported by the health route.
func (b *Backend) SetReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = ready
}

// SetProgress queues progress replies; the last one repeats.
func (b *Backend) SetProgress(steps ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = append([]map[string]any(nil), steps...)
}

// AddTemplate registers a template served by the templates routes.
func (b *Backend) AddTemplate(filename string, doc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.templates[filename] = json.RawMessage(doc)
}

// Template returns a stored template body.
func (b *Backend) Template(filename string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.templates[filename]
	return string(doc), ok
}

// Upload returns the bytes uploaded under filename.
func (b *Backend) Upload(filename string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.uploads[filename]
	return data, ok
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the backend's error shape.
func WriteError(w http.ResponseWriter, status int, message, code string) {
	body := map[string]any{"error": message}
	if code != "" {
		body["error_code"] = code
	}
	WriteJSON(w, status, body)
}

func message(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"message": text})
	}
}

func (b *Backend) health(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	healthy, ready := b.healthy, b.ready
	b.mu.Unlock()
	if !healthy {
		WriteError(w, http.StatusServiceUnavailable, "backend unavailable", "")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Backend is running", "ready": ready})
}

func (b *Backend) demo(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "No JSON data received", "")
		return
	}
	if _, ok := body["config"]; !ok {
		WriteError(w, http.StatusBadRequest, "Missing 'config' in request", "")
		return
	}
	if _, ok := body["gpx_filename"]; !ok {
		WriteError(w, http.StatusBadRequest, "Missing 'gpx_filename' in request", "")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"filename": "preview_1.png"})
}

func (b *Backend) renderVideo(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"filename": "video_1.mov", "message": "Video rendered successfully"})
}

func (b *Backend) renderProgress(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	var step map[string]any
	switch len(b.progress) {
	case 0:
		step = map[string]any{"current": 0, "total": 0, "status": "idle", "message": ""}
	case 1:
		step = b.progress[0]
	default:
		step = b.progress[0]
		b.progress = b.progress[1:]
	}
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, step)
}

func (b *Backend) cancelRender(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Cancellation requested"})
}

func (b *Backend) upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request", "")
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	b.mu.Lock()
	b.uploads[header.Filename] = data
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]any{
		"data":             "file uploaded",
		"filename":         header.Filename,
		"duration_seconds": strings.Count(string(data), "<trkpt"),
		"has_data":         len(data) > 0,
	})
}

func (b *Backend) loadGPX(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		WriteError(w, http.StatusBadRequest, "invalid request", "")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"data":             "file loaded",
		"filename":         filepath.Base(body.Path),
		"duration_seconds": 600,
		"has_data":         true,
	})
}

func (b *Backend) image(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write([]byte("\x89PNG"))
}

func (b *Backend) listTemplates(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	names := make([]string, 0, len(b.templates))
	for name := range b.templates {
		names = append(names, name)
	}
	b.mu.Unlock()
	sort.Strings(names)
	out := make([]map[string]string, 0, len(names))
	for _, name := range names {
		kind := "user"
		if strings.HasPrefix(name, "default") {
			kind = "built-in"
		}
		out = append(out, map[string]string{"id": name, "name": "", "type": kind})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (b *Backend) getTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !strings.HasSuffix(name, ".json") {
		WriteError(w, http.StatusBadRequest, "Invalid file type", "")
		return
	}
	b.mu.Lock()
	doc, ok := b.templates[name]
	b.mu.Unlock()
	if !ok {
		WriteError(w, http.StatusNotFound, "Template not found", "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (b *Backend) saveTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Config   json.RawMessage `json:"config"`
		Filename string          `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Filename == "" || len(body.Config) == 0 {
		WriteError(w, http.StatusBadRequest, "Invalid request", "")
		return
	}
	filename := body.Filename
	if !strings.HasSuffix(filename, ".json") {
		filename += ".json"
	}
	b.mu.Lock()
	b.templates[filename] = body.Config
	b.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]any{"message": "Template saved to " + filename, "filename": filename})
}

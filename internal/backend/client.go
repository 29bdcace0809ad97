package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cyclemetry/internal/services"
	"cyclemetry/internal/transport"
)

// Client issues typed backend calls through a Dispatcher.
type Client struct {
	dispatcher *transport.Dispatcher
}

// New wraps the dispatcher.
func New(d *transport.Dispatcher) *Client {
	return &Client{dispatcher: d}
}

// Dispatcher exposes the underlying dispatcher.
func (c *Client) Dispatcher() *transport.Dispatcher { return c.dispatcher }

// Health probes the backend.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.dispatcher.CallJSON(ctx, transport.OpHealth, transport.Request{}, &out)
	return out, err
}

// GenerateFrame renders one preview frame at req.Second.
func (c *Client) GenerateFrame(ctx context.Context, req FrameRequest) (Frame, error) {
	config, err := transport.EncodeConfig(req.Document)
	if err != nil {
		return Frame{}, services.Wrap(services.ErrValidation, "backend", "generate frame", "encode document", err)
	}
	body := frameBody{Config: config, GPXFilename: req.Activity, Second: req.Second}
	var out Frame
	if err := c.dispatcher.CallJSON(ctx, transport.OpGenerateFrame, transport.Request{Body: body}, &out); err != nil {
		return Frame{}, err
	}
	if strings.TrimSpace(out.Filename) == "" {
		return Frame{}, services.Wrap(services.ErrBackend, "backend", "generate frame", "reply carried no filename", nil)
	}
	return out, nil
}

// RenderVideo blocks until the backend finishes the whole render.
func (c *Client) RenderVideo(ctx context.Context, req RenderRequest) (RenderResult, error) {
	config, err := transport.EncodeConfig(req.Document)
	if err != nil {
		return RenderResult{}, services.Wrap(services.ErrValidation, "backend", "render video", "encode document", err)
	}
	body := renderBody{Config: config, GPXFilename: req.Activity}
	var out RenderResult
	if err := c.dispatcher.CallJSON(ctx, transport.OpRenderVideo, transport.Request{Body: body}, &out); err != nil {
		return RenderResult{}, err
	}
	return out, nil
}

// RenderProgress polls the current render.
func (c *Client) RenderProgress(ctx context.Context) (Progress, error) {
	var out Progress
	err := c.dispatcher.CallJSON(ctx, transport.OpRenderProgress, transport.Request{}, &out)
	return out, err
}

// CancelRender asks the backend to stop the current render. It is advisory:
// the render ends when progress reports a terminal status.
func (c *Client) CancelRender(ctx context.Context) (Ack, error) {
	var out Ack
	err := c.dispatcher.CallJSON(ctx, transport.OpCancelRender, transport.Request{}, &out)
	return out, err
}

// OpenDownloads opens the backend's output folder on the host.
func (c *Client) OpenDownloads(ctx context.Context) (Ack, error) {
	var out Ack
	err := c.dispatcher.CallJSON(ctx, transport.OpOpenDownloads, transport.Request{}, &out)
	return out, err
}

// OpenVideo opens a rendered video in the host's player.
func (c *Client) OpenVideo(ctx context.Context, filename string) (Ack, error) {
	if strings.TrimSpace(filename) == "" {
		return Ack{}, services.Wrap(services.ErrValidation, "backend", "open video", "filename is required", nil)
	}
	var out Ack
	err := c.dispatcher.CallJSON(ctx, transport.OpOpenVideo, transport.Request{Body: map[string]string{"filename": filename}}, &out)
	return out, err
}

// UploadActivity sends activity bytes to the backend.
func (c *Client) UploadActivity(ctx context.Context, filename string, data []byte) (Activity, error) {
	if strings.TrimSpace(filename) == "" {
		return Activity{}, services.Wrap(services.ErrValidation, "backend", "upload activity", "filename is required", nil)
	}
	var out Activity
	req := transport.Request{Upload: &transport.Upload{Filename: filename, Data: data}}
	err := c.dispatcher.CallJSON(ctx, transport.OpUploadActivity, req, &out)
	return out, err
}

// LoadActivity asks the backend to copy an activity from a host path.
func (c *Client) LoadActivity(ctx context.Context, path string) (Activity, error) {
	if strings.TrimSpace(path) == "" {
		return Activity{}, services.Wrap(services.ErrValidation, "backend", "load activity", "path is required", nil)
	}
	var out Activity
	err := c.dispatcher.CallJSON(ctx, transport.OpLoadActivity, transport.Request{Body: map[string]string{"path": path}}, &out)
	return out, err
}

// ListTemplates returns the catalogue with display names filled in.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var out []Template
	if err := c.dispatcher.CallJSON(ctx, transport.OpListTemplates, transport.Request{}, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if strings.TrimSpace(out[i].Name) == "" {
			out[i].Name = DisplayName(out[i].ID)
		}
	}
	return out, nil
}

// FetchTemplate returns a template document.
func (c *Client) FetchTemplate(ctx context.Context, filename string) (map[string]any, error) {
	var out map[string]any
	if err := c.dispatcher.CallJSON(ctx, transport.OpFetchTemplate, transport.Request{Filename: filename}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, services.Wrap(services.ErrBackend, "backend", "fetch template", fmt.Sprintf("%s is not an object", filename), nil)
	}
	return out, nil
}

// SaveTemplate stores doc as a user template. The backend appends ".json" when missing.
func (c *Client) SaveTemplate(ctx context.Context, filename string, doc any) (SavedTemplate, error) {
	if strings.TrimSpace(filename) == "" {
		return SavedTemplate{}, services.Wrap(services.ErrValidation, "backend", "save template", "filename is required", nil)
	}
	config, err := transport.EncodeConfig(doc)
	if err != nil {
		return SavedTemplate{}, services.Wrap(services.ErrValidation, "backend", "save template", "encode document", err)
	}
	body := saveTemplateBody{Config: json.RawMessage(config), Filename: filename}
	var out SavedTemplate
	err = c.dispatcher.CallJSON(ctx, transport.OpSaveTemplate, transport.Request{Body: body}, &out)
	return out, err
}

// OpenTemplates opens the user templates folder on the host.
func (c *Client) OpenTemplates(ctx context.Context) (Ack, error) {
	var out Ack
	err := c.dispatcher.CallJSON(ctx, transport.OpOpenTemplates, transport.Request{}, &out)
	return out, err
}

// ImageURL resolves a displayable reference for a backend image.
func (c *Client) ImageURL(ctx context.Context, filename string) (string, error) {
	return c.dispatcher.ResolveImage(ctx, filename)
}

// DisplayName turns a template id like "my_ride.json" into "My Ride".
func DisplayName(id string) string {
	name := strings.TrimSuffix(id, ".json")
	name = strings.ReplaceAll(name, "_", " ")
	// Casers are stateful, so each call gets its own.
	return cases.Title(language.English).String(name)
}

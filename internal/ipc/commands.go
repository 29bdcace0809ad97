package ipc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const (
	defaultImageType = "image/png"
	proxyHost        = "http://backend"
)

// route maps a bridge command onto a backend HTTP request.
type route struct {
	method string
	path   string
	// file commands take FileArgs and append the escaped filename to path.
	file bool
	// image commands return the body as a data URL.
	image bool
	// upload commands take UploadArgs and send a multipart form.
	upload bool
}

var routes = map[string]route{
	CommandHealth:        {method: http.MethodGet, path: "/api/health"},
	CommandDemo:          {method: http.MethodPost, path: "/api/demo"},
	CommandRender:        {method: http.MethodPost, path: "/api/render-video"},
	CommandProgress:      {method: http.MethodGet, path: "/api/render-progress"},
	CommandCancel:        {method: http.MethodPost, path: "/api/cancel-render"},
	CommandOpenDownloads: {method: http.MethodPost, path: "/api/open-downloads"},
	CommandOpenVideo:     {method: http.MethodPost, path: "/api/open-video"},
	CommandUpload:        {method: http.MethodPost, path: "/upload", upload: true},
	CommandLoadGPX:       {method: http.MethodPost, path: "/api/load-gpx"},
	CommandImageData:     {method: http.MethodGet, path: "/images/", file: true, image: true},
	CommandListTemplates: {method: http.MethodGet, path: "/api/templates"},
	CommandGetTemplate:   {method: http.MethodGet, path: "/templates/", file: true},
	CommandSaveTemplate:  {method: http.MethodPost, path: "/api/save-template"},
	CommandOpenTemplates: {method: http.MethodPost, path: "/api/open-templates"},
}

// Commands lists every command the bridge accepts.
func Commands() []string {
	out := make([]string, 0, len(routes))
	for name := range routes {
		out = append(out, name)
	}
	return out
}

// backendProxy speaks HTTP to the backend over its unix socket.
type backendProxy struct {
	socket string
	client *http.Client
}

func newBackendProxy(socket string) *backendProxy {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
		DisableKeepAlives: true,
	}
	return &backendProxy{socket: socket, client: &http.Client{Transport: transport}}
}

// ready reports whether the backend socket file exists.
func (p *backendProxy) ready() bool {
	_, err := os.Stat(p.socket)
	return err == nil
}

func (p *backendProxy) invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	r, ok := routes[req.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}

	path := r.path
	var body io.Reader
	contentType := ""
	switch {
	case r.file:
		var args FileArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, fmt.Errorf("%s: %w", req.Command, err)
		}
		if strings.TrimSpace(args.Filename) == "" {
			return nil, fmt.Errorf("%s: filename is required", req.Command)
		}
		path += url.PathEscape(args.Filename)
	case r.upload:
		var args UploadArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, fmt.Errorf("%s: %w", req.Command, err)
		}
		buf, ct, err := multipartBody(args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Command, err)
		}
		body, contentType = buf, ct
	case r.method == http.MethodPost:
		payload := req.Args
		if len(payload) == 0 || string(payload) == "null" {
			payload = json.RawMessage("{}")
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.method, proxyHost+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.Command, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Command, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", req.Command, err)
	}

	out := &InvokeResponse{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if r.image && resp.StatusCode < http.StatusBadRequest {
		ct := out.ContentType
		if ct == "" {
			ct = defaultImageType
		}
		out.Body = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
		out.ContentType = "text/plain"
		return out, nil
	}
	out.Body = string(data)
	return out, nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

func multipartBody(args UploadArgs) (*bytes.Buffer, string, error) {
	if strings.TrimSpace(args.Filename) == "" {
		return nil, "", fmt.Errorf("filename is required")
	}
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", args.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(args.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

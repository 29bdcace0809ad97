package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"cyclemetry/internal/services"
)

// ChannelHTTP is the name reported by the loopback channel.
const ChannelHTTP = "http"

// HTTPChannel calls the backend's loopback HTTP endpoint.
type HTTPChannel struct {
	baseURL string
	client  *http.Client
}

// NewHTTPChannel builds a channel rooted at baseURL. A nil client uses a
// default client without a global timeout; the Dispatcher applies deadlines
// per operation.
func NewHTTPChannel(baseURL string, client *http.Client) *HTTPChannel {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPChannel{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name implements Channel.
func (h *HTTPChannel) Name() string { return ChannelHTTP }

// BaseURL returns the endpoint root without a trailing slash.
func (h *HTTPChannel) BaseURL() string { return h.baseURL }

// Call implements Channel. Non-2xx replies are returned, not treated as errors.
func (h *HTTPChannel) Call(ctx context.Context, op Operation, req Request) (*Response, error) {
	r, ok := routes[op]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	target := h.baseURL + r.path
	if r.file {
		if strings.TrimSpace(req.Filename) == "" {
			return nil, fmt.Errorf("%s: filename is required", op)
		}
		target += url.PathEscape(req.Filename)
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Upload != nil:
		buf, ct, err := encodeMultipart(req.Upload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		body, contentType = buf, ct
	case r.method == http.MethodPost:
		payload := []byte("{}")
		if req.Body != nil {
			encoded, err := json.Marshal(req.Body)
			if err != nil {
				return nil, fmt.Errorf("%s: encode body: %w", op, err)
			}
			payload = encoded
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	return &Response{
		Channel:     ChannelHTTP,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func encodeMultipart(up *Upload) (*bytes.Buffer, string, error) {
	if strings.TrimSpace(up.Filename) == "" {
		return nil, "", fmt.Errorf("upload filename is required")
	}
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", up.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

package transport_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cyclemetry/internal/services"
	"cyclemetry/internal/transport"
)

func TestHTTPChannelRoutes(t *testing.T) {
	type seen struct {
		method, path, contentType, requestID string
		body                                 []byte
	}
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, seen{r.Method, r.URL.EscapedPath(), r.Header.Get("Content-Type"), r.Header.Get("X-Request-ID"), body})
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	ch := transport.NewHTTPChannel(srv.URL+"/", nil)
	ctx := services.WithRequestID(context.Background(), "req-7")

	if _, err := ch.Call(ctx, transport.OpGenerateFrame, transport.Request{Body: map[string]any{"second": 3}}); err != nil {
		t.Fatalf("generate-frame: %v", err)
	}
	if _, err := ch.Call(ctx, transport.OpCancelRender, transport.Request{}); err != nil {
		t.Fatalf("cancel-render: %v", err)
	}
	if _, err := ch.Call(ctx, transport.OpFetchTemplate, transport.Request{Filename: "my template.json"}); err != nil {
		t.Fatalf("fetch-template: %v", err)
	}
	if _, err := ch.Call(ctx, transport.OpRenderProgress, transport.Request{}); err != nil {
		t.Fatalf("render-progress: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(got))
	}
	var frame map[string]any
	if err := json.Unmarshal(got[0].body, &frame); err != nil || frame["second"] != float64(3) {
		t.Fatalf("unexpected frame body %q", got[0].body)
	}
	if got[0].method != http.MethodPost || got[0].path != "/api/demo" || got[0].contentType != "application/json" || got[0].requestID != "req-7" {
		t.Fatalf("unexpected frame request %+v", got[0])
	}
	if got[1].path != "/api/cancel-render" || string(got[1].body) != "{}" {
		t.Fatalf("unexpected cancel request %+v", got[1])
	}
	if got[2].method != http.MethodGet || got[2].path != "/templates/my%20template.json" {
		t.Fatalf("unexpected template request %+v", got[2])
	}
	if got[3].method != http.MethodGet || got[3].path != "/api/render-progress" || len(got[3].body) != 0 {
		t.Fatalf("unexpected progress request %+v", got[3])
	}
}

func TestHTTPChannelUpload(t *testing.T) {
	var name, data string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		raw, _ := io.ReadAll(file)
		name, data = header.Filename, string(raw)
		_, _ = io.WriteString(w, `{"filename":"ride.gpx"}`)
	}))
	t.Cleanup(srv.Close)

	ch := transport.NewHTTPChannel(srv.URL, nil)
	resp, err := ch.Call(context.Background(), transport.OpUploadActivity, transport.Request{
		Upload: &transport.Upload{Filename: "ride.gpx", Data: []byte("<gpx/>")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !resp.OK() || name != "ride.gpx" || data != "<gpx/>" {
		t.Fatalf("upload mismatch status=%d name=%q data=%q", resp.Status, name, data)
	}
}

func TestHTTPChannelReturnsErrorReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	resp, err := transport.NewHTTPChannel(srv.URL, nil).Call(context.Background(), transport.OpHealth, transport.Request{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK() || resp.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 reply, got %d", resp.Status)
	}
}

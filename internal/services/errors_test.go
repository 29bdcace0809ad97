package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"cyclemetry/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrBackend, "render", "start", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrBackend) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"render", "start", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestCategory(t *testing.T) {
	cases := map[string]error{
		"ok":           nil,
		"busy":         services.Wrap(services.ErrBusy, "preview", "generate", "", nil),
		"precondition": fmt.Errorf("render: %w", services.ErrPrecondition),
		"backend":      services.ErrBackend,
		"transport":    services.Wrap(services.ErrTransport, "http", "health", "dial", errors.New("refused")),
		"error":        errors.New("plain"),
	}
	for want, err := range cases {
		if got := services.Category(err); got != want {
			t.Fatalf("Category(%v) = %q, want %q", err, got, want)
		}
	}
}

package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteActivity writes a minimal GPX track with one point per second and returns
// its path. The runtime never parses it; the fake backend only needs bytes.
func WriteActivity(t testing.TB, path string, seconds int) string {
	t.Helper()

	if seconds <= 0 {
		seconds = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<gpx version="1.1" creator="cyclemetry-tests"><trk><trkseg>` + "\n")
	for i := range seconds {
		fmt.Fprintf(&b, `<trkpt lat="45.0" lon="7.0"><time>2024-01-01T00:%02d:%02dZ</time></trkpt>`+"\n", (i/60)%60, i%60)
	}
	b.WriteString("</trkseg></trk></gpx>\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"cyclemetry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The bridge is disabled so calls go over HTTP unless a test opts in.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Backend.BridgeSocket = ""
	cfgVal.Backend.BackendSocket = filepath.Join(base, "backend.sock")
	cfgVal.Backend.RequestTimeout = config.Duration(5 * time.Second)
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackendURL points the HTTP channel at url.
func WithBackendURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.HTTPURL = url
	}
}

// WithBridgeSocket enables the IPC channel.
func WithBridgeSocket(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.BridgeSocket = path
	}
}

// WithFastTimings shrinks every interval so loops complete within a test.
func WithFastTimings() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Connectivity.ProbeInterval = config.Duration(20 * time.Millisecond)
		b.cfg.Connectivity.ProbeTimeout = config.Duration(time.Second)
		b.cfg.Preview.Debounce = config.Duration(20 * time.Millisecond)
		b.cfg.Preview.StartupGrace = 0
		b.cfg.Render.PollInterval = config.Duration(10 * time.Millisecond)
		b.cfg.Timeline.InputDebounce = config.Duration(20 * time.Millisecond)
	}
}

// WithoutAutoRender disables automatic previews.
func WithoutAutoRender() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Preview.AutoRender = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

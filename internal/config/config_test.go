package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"cyclemetry/internal/config"
)

func isolateXDG(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", base)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(base, "state"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return base
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	base := isolateXDG(t)
	t.Chdir(base)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent")
	}
	if want := filepath.Join(base, "config", "cyclemetry", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	if cfg.Paths.StateDir != filepath.Join(base, "state", "cyclemetry") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Backend.HTTPURL != "http://localhost:31337" {
		t.Fatalf("unexpected http url: %q", cfg.Backend.HTTPURL)
	}
	if cfg.Connectivity.StartupFailureThreshold != 90 || cfg.Connectivity.ConnectedFailureThreshold != 8 {
		t.Fatalf("unexpected thresholds: %+v", cfg.Connectivity)
	}
	if cfg.Connectivity.ProbeInterval.Std() != 2*time.Second {
		t.Fatalf("unexpected probe interval: %s", cfg.Connectivity.ProbeInterval)
	}
	if cfg.Preview.Debounce.Std() != time.Second || cfg.Preview.StartupGrace.Std() != 20*time.Second {
		t.Fatalf("unexpected preview timings: %+v", cfg.Preview)
	}
	if cfg.Render.PollInterval.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.Render.PollInterval)
	}
	if cfg.Timeline.GuardWindow.Std() != 100*time.Millisecond || cfg.Timeline.DefaultDuration != 73 {
		t.Fatalf("unexpected timeline config: %+v", cfg.Timeline)
	}
}

func TestLoadParsesFileAndExpandsPaths(t *testing.T) {
	base := isolateXDG(t)
	path := filepath.Join(base, "custom.toml")
	content := `
[backend]
http_url = "127.0.0.1:5000/"
bridge_socket = ""
request_timeout = "5s"

[paths]
state_dir = "~/cm-state"

[connectivity]
probe_interval = "250ms"
connected_failure_threshold = 3

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected file %q to be used, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Backend.HTTPURL != "http://127.0.0.1:5000" {
		t.Fatalf("expected normalized url, got %q", cfg.Backend.HTTPURL)
	}
	if cfg.Backend.BridgeSocket != "" {
		t.Fatalf("expected bridge disabled, got %q", cfg.Backend.BridgeSocket)
	}
	if cfg.Backend.RequestTimeout.Std() != 5*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Backend.RequestTimeout)
	}
	if cfg.Paths.StateDir != filepath.Join(base, "cm-state") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.StateDir)
	}
	if cfg.Connectivity.ProbeTimeout.Std() != 2*time.Second {
		t.Fatalf("expected default probe timeout, got %s", cfg.Connectivity.ProbeTimeout)
	}
	if cfg.Connectivity.ConnectedFailureThreshold != 3 || cfg.Connectivity.StartupFailureThreshold != 90 {
		t.Fatalf("unexpected thresholds: %+v", cfg.Connectivity)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected lowercased logging config, got %+v", cfg.Logging)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	isolateXDG(t)
	t.Setenv("CYCLEMETRY_HTTP_URL", "http://127.0.0.1:9999")
	t.Setenv("CYCLEMETRY_BRIDGE_SOCKET", "")
	t.Setenv("CYCLEMETRY_LOG_LEVEL", "warn")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.HTTPURL != "http://127.0.0.1:9999" {
		t.Fatalf("expected env url, got %q", cfg.Backend.HTTPURL)
	}
	if cfg.Backend.BridgeSocket != "" {
		t.Fatalf("expected empty bridge socket from env, got %q", cfg.Backend.BridgeSocket)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	base := isolateXDG(t)
	cases := map[string]string{
		"bad duration":  "[preview]\ndebounce = \"soon\"\n",
		"bad scheme":    "[backend]\nhttp_url = \"ftp://localhost\"\n",
		"bad threshold": "[connectivity]\nstartup_failure_threshold = -1\n",
		"bad format":    "[logging]\nformat = \"xml\"\n",
	}
	for name, content := range cases {
		path := filepath.Join(base, strings.ReplaceAll(name, " ", "_")+".toml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, _, _, err := config.Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSampleConfigParses(t *testing.T) {
	base := isolateXDG(t)
	path := filepath.Join(base, "sample", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if decoded.Render.PollInterval.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected sample poll interval %s", decoded.Render.PollInterval)
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("Load(sample): %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := isolateXDG(t)
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "s")
	cfg.Paths.LogDir = filepath.Join(base, "s", "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
	if filepath.Dir(cfg.StateDBPath()) != cfg.Paths.StateDir || filepath.Dir(cfg.LockPath()) != cfg.Paths.StateDir {
		t.Fatal("expected state files inside the state dir")
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend describes how the runtime reaches the rendering backend.
type Backend struct {
	// HTTPURL is the loopback endpoint used whenever the bridge is unavailable.
	HTTPURL string `toml:"http_url"`
	// BridgeSocket is the desktop-shell bridge socket. Empty disables the IPC channel.
	BridgeSocket string `toml:"bridge_socket"`
	// BackendSocket is the backend's own unix socket, used by the bridge process.
	BackendSocket  string   `toml:"backend_socket"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Paths contains directories for durable local state and logs.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Connectivity controls health probing and the failure hysteresis.
type Connectivity struct {
	ProbeInterval             Duration `toml:"probe_interval"`
	ProbeTimeout              Duration `toml:"probe_timeout"`
	StartupFailureThreshold   int      `toml:"startup_failure_threshold"`
	ConnectedFailureThreshold int      `toml:"connected_failure_threshold"`
}

// Preview controls automatic single-frame generation.
type Preview struct {
	AutoRender   bool     `toml:"auto_render"`
	Debounce     Duration `toml:"debounce"`
	StartupGrace Duration `toml:"startup_grace"`
}

// Render controls video render jobs.
type Render struct {
	PollInterval   Duration `toml:"poll_interval"`
	OpenOnComplete bool     `toml:"open_on_complete"`
}

// Timeline controls timeline editing behaviour.
type Timeline struct {
	GuardWindow     Duration `toml:"guard_window"`
	InputDebounce   Duration `toml:"input_debounce"`
	DefaultDuration int      `toml:"default_duration"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics controls the optional prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for cyclemetry.
//
// Configuration sections by subsystem:
//   - Backend: HTTP endpoint, bridge and backend sockets, request timeout
//   - Paths: state and log directories
//   - Connectivity: health probe cadence and failure thresholds
//   - Preview: auto-render toggle, debounce, startup grace period
//   - Render: progress poll interval and open-on-complete
//   - Timeline: echo guard window and numeric input debounce
//   - Logging: log format and level
//   - Metrics: prometheus bind address
type Config struct {
	Backend      Backend      `toml:"backend"`
	Paths        Paths        `toml:"paths"`
	Connectivity Connectivity `toml:"connectivity"`
	Preview      Preview      `toml:"preview"`
	Render       Render       `toml:"render"`
	Timeline     Timeline     `toml:"timeline"`
	Logging      Logging      `toml:"logging"`
	Metrics      Metrics      `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(xdg.ConfigHome, appName, "config.toml"))
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(appName + ".toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// applyEnv lets the desktop shell and scripts point the runtime elsewhere
// without editing the file.
func (c *Config) applyEnv() {
	if value, ok := lookupEnv("CYCLEMETRY_HTTP_URL"); ok {
		c.Backend.HTTPURL = value
	}
	if value, ok := os.LookupEnv("CYCLEMETRY_BRIDGE_SOCKET"); ok {
		c.Backend.BridgeSocket = strings.TrimSpace(value)
	}
	if value, ok := lookupEnv("CYCLEMETRY_BACKEND_SOCKET"); ok {
		c.Backend.BackendSocket = value
	}
	if value, ok := lookupEnv("CYCLEMETRY_LOG_LEVEL"); ok {
		c.Logging.Level = value
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StateDBPath returns the SQLite file holding persisted editor state.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// LockPath returns the single-instance session lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "session.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

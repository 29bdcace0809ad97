package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	appName = "cyclemetry"

	defaultHTTPURL                   = "http://localhost:31337"
	defaultBackendSocket             = "/tmp/cyclemetry.sock"
	defaultBridgeSocketName          = "cyclemetry-bridge.sock"
	defaultRequestTimeout            = 30 * time.Second
	defaultProbeInterval             = 2 * time.Second
	defaultProbeTimeout              = 2 * time.Second
	defaultStartupFailureThreshold   = 90
	defaultConnectedFailureThreshold = 8
	defaultPreviewAutoRender         = true
	defaultPreviewDebounce           = time.Second
	defaultPreviewStartupGrace       = 20 * time.Second
	defaultRenderPollInterval        = 500 * time.Millisecond
	defaultRenderOpenOnComplete      = true
	defaultGuardWindow               = 100 * time.Millisecond
	defaultInputDebounce             = 500 * time.Millisecond
	defaultTimelineDuration          = 73
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Backend: Backend{
			HTTPURL:        defaultHTTPURL,
			BridgeSocket:   defaultBridgeSocket(),
			BackendSocket:  defaultBackendSocket,
			RequestTimeout: Duration(defaultRequestTimeout),
		},
		Paths: Paths{
			StateDir: defaultStateDir(),
			LogDir:   filepath.Join(defaultStateDir(), "logs"),
		},
		Connectivity: Connectivity{
			ProbeInterval:             Duration(defaultProbeInterval),
			ProbeTimeout:              Duration(defaultProbeTimeout),
			StartupFailureThreshold:   defaultStartupFailureThreshold,
			ConnectedFailureThreshold: defaultConnectedFailureThreshold,
		},
		Preview: Preview{
			AutoRender:   defaultPreviewAutoRender,
			Debounce:     Duration(defaultPreviewDebounce),
			StartupGrace: Duration(defaultPreviewStartupGrace),
		},
		Render: Render{
			PollInterval:   Duration(defaultRenderPollInterval),
			OpenOnComplete: defaultRenderOpenOnComplete,
		},
		Timeline: Timeline{
			GuardWindow:     Duration(defaultGuardWindow),
			InputDebounce:   Duration(defaultInputDebounce),
			DefaultDuration: defaultTimelineDuration,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultStateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

func defaultBridgeSocket() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, defaultBridgeSocketName)
	}
	return filepath.Join("/tmp", defaultBridgeSocketName)
}

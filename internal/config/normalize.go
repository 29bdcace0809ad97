package config

import (
	"fmt"
	"net/url"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBackend(); err != nil {
		return err
	}
	c.normalizeTimings()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir()
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() error {
	var err error
	httpURL := strings.TrimRight(strings.TrimSpace(c.Backend.HTTPURL), "/")
	if httpURL == "" {
		httpURL = defaultHTTPURL
	}
	if !strings.Contains(httpURL, "://") {
		httpURL = "http://" + httpURL
	}
	if _, err := url.Parse(httpURL); err != nil {
		return fmt.Errorf("backend.http_url: %w", err)
	}
	c.Backend.HTTPURL = httpURL

	if c.Backend.BridgeSocket, err = expandPath(strings.TrimSpace(c.Backend.BridgeSocket)); err != nil {
		return fmt.Errorf("backend.bridge_socket: %w", err)
	}
	if strings.TrimSpace(c.Backend.BackendSocket) == "" {
		c.Backend.BackendSocket = defaultBackendSocket
	}
	if c.Backend.BackendSocket, err = expandPath(c.Backend.BackendSocket); err != nil {
		return fmt.Errorf("backend.backend_socket: %w", err)
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = Duration(defaultRequestTimeout)
	}
	return nil
}

func (c *Config) normalizeTimings() {
	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = Duration(defaultProbeInterval)
	}
	if c.Connectivity.ProbeTimeout == 0 {
		c.Connectivity.ProbeTimeout = c.Connectivity.ProbeInterval
	}
	if c.Connectivity.StartupFailureThreshold == 0 {
		c.Connectivity.StartupFailureThreshold = defaultStartupFailureThreshold
	}
	if c.Connectivity.ConnectedFailureThreshold == 0 {
		c.Connectivity.ConnectedFailureThreshold = defaultConnectedFailureThreshold
	}
	if c.Preview.Debounce == 0 {
		c.Preview.Debounce = Duration(defaultPreviewDebounce)
	}
	if c.Render.PollInterval == 0 {
		c.Render.PollInterval = Duration(defaultRenderPollInterval)
	}
	if c.Timeline.GuardWindow == 0 {
		c.Timeline.GuardWindow = Duration(defaultGuardWindow)
	}
	if c.Timeline.InputDebounce == 0 {
		c.Timeline.InputDebounce = Duration(defaultInputDebounce)
	}
	if c.Timeline.DefaultDuration == 0 {
		c.Timeline.DefaultDuration = defaultTimelineDuration
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
}

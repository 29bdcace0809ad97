package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateConnectivity(); err != nil {
		return err
	}
	if err := c.validatePreview(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateTimeline(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.HTTPURL)
	if err != nil {
		return fmt.Errorf("backend.http_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.http_url: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("backend.http_url must include a host")
	}
	if c.Backend.RequestTimeout < 0 {
		return errors.New("backend.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	if c.Connectivity.ProbeInterval < 0 {
		return errors.New("connectivity.probe_interval must be positive")
	}
	if c.Connectivity.ProbeTimeout < 0 {
		return errors.New("connectivity.probe_timeout must be positive")
	}
	if c.Connectivity.StartupFailureThreshold < 1 {
		return errors.New("connectivity.startup_failure_threshold must be at least 1")
	}
	if c.Connectivity.ConnectedFailureThreshold < 1 {
		return errors.New("connectivity.connected_failure_threshold must be at least 1")
	}
	return nil
}

func (c *Config) validatePreview() error {
	if c.Preview.Debounce < 0 {
		return errors.New("preview.debounce must be positive")
	}
	if c.Preview.StartupGrace < 0 {
		return errors.New("preview.startup_grace must not be negative")
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.Render.PollInterval < 0 {
		return errors.New("render.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateTimeline() error {
	if c.Timeline.GuardWindow < 0 {
		return errors.New("timeline.guard_window must be positive")
	}
	if c.Timeline.InputDebounce < 0 {
		return errors.New("timeline.input_debounce must be positive")
	}
	if c.Timeline.DefaultDuration < 1 {
		return errors.New("timeline.default_duration must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

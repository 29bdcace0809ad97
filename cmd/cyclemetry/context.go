package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"cyclemetry/internal/config"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/services"
	"cyclemetry/internal/session"
)

// Commands that change editor state wait this long for a concurrent holder of
// the session lock to finish.
const defaultLockTimeout = 2 * time.Second

type commandContext struct {
	configFlag  *string
	bridgeFlag  *string
	verboseFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag, bridgeFlag *string, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		bridgeFlag:  bridgeFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.bridgeFlag != nil && *c.bridgeFlag != "" {
			socket, err := config.ExpandPath(*c.bridgeFlag)
			if err != nil {
				c.configErr = fmt.Errorf("resolve bridge socket: %w", err)
				return
			}
			cfg.Backend.BridgeSocket = socket
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// loggerFor writes to the log file, and to stderr as well with --verbose, so
// command output on stdout stays clean.
func (c *commandContext) loggerFor(cfg *config.Config) *slog.Logger {
	c.loggerOnce.Do(func() {
		var paths []string
		if c.verboseFlag != nil && *c.verboseFlag {
			paths = append(paths, "stderr")
		}
		if cfg.Paths.LogDir != "" {
			paths = append(paths, filepath.Join(cfg.Paths.LogDir, "cyclemetry.log"))
		}
		if len(paths) == 0 {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: paths,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

type sessionMode int

const (
	readOnly sessionMode = iota
	exclusive
)

// withSession opens a session for the duration of fn.
func (c *commandContext) withSession(cmd *cobra.Command, mode sessionMode, fn func(context.Context, *session.Session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	opts := session.Options{Logger: c.loggerFor(cfg)}
	if mode == exclusive {
		opts.Exclusive = true
		opts.LockTimeout = defaultLockTimeout
	}
	s, err := session.Open(ctx, cfg, opts)
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			return fmt.Errorf("%w; wait for the other cyclemetry command to finish", err)
		}
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// connect waits for the backend and turns dial failures into actionable errors.
func connect(ctx context.Context, s *session.Session, wait time.Duration) error {
	if _, err := s.Connect(ctx, wait, false); err != nil {
		return wrapDialError(err, s.Endpoint())
	}
	return nil
}

func wrapDialError(err error, endpoint string) error {
	switch {
	case errors.Is(err, unix.ENOENT):
		return fmt.Errorf("connect to backend: socket for %s not found; start the backend first", endpoint)
	case errors.Is(err, unix.ECONNREFUSED):
		return fmt.Errorf("connect to backend: %s refused the connection; verify the backend is running", endpoint)
	case errors.Is(err, services.ErrTimeout):
		return fmt.Errorf("connect to backend: %s did not answer; verify the backend is running (%w)", endpoint, err)
	default:
		return fmt.Errorf("connect to backend: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/backend"
	"cyclemetry/internal/config"
	"cyclemetry/internal/connectivity"
	"cyclemetry/internal/document"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/preview"
	"cyclemetry/internal/render"
	"cyclemetry/internal/services"
	"cyclemetry/internal/state"
	"cyclemetry/internal/transport"
)

// ErrLocked is returned when another process holds the session lock.
var ErrLocked = services.Wrap(services.ErrPrecondition, "session", "lock", "another cyclemetry session is editing this state", nil)

// Options configures Open.
type Options struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
	// Exclusive takes the session lock, waiting up to LockTimeout.
	Exclusive   bool
	LockTimeout time.Duration
	// Persister replaces the SQLite state cache.
	Persister document.Persister
}

// Session is a fully wired runtime.
type Session struct {
	ID         string
	Config     *config.Config
	Dispatcher *transport.Dispatcher
	Client     *backend.Client
	Monitor    *connectivity.Monitor
	Store      *document.Store
	Preview    *preview.Pipeline
	Render     *render.Controller

	base   *slog.Logger
	logger *slog.Logger
	state  *state.Store
	lock   *flock.Flock
	ctx    context.Context
	unsubs []func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	running chan struct{}
	closed  bool
}

// Open builds a session and restores persisted editor state.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "session", "open", "config is required", nil)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "session", "open", "prepare directories", err)
	}

	s := &Session{
		ID:     uuid.NewString(),
		Config: cfg,
		base:   logger,
		logger: logging.NewComponentLogger(logger, "session"),
	}
	s.ctx = services.WithSessionID(context.WithoutCancel(ctx), s.ID)

	if opts.Exclusive {
		if err := s.acquireLock(ctx, cfg.LockPath(), opts.LockTimeout); err != nil {
			return nil, err
		}
	}

	persister := opts.Persister
	if persister == nil {
		st, err := state.Open(cfg)
		if err != nil {
			s.releaseLock()
			return nil, err
		}
		s.state = st
		persister = st
	}

	dispatcher, err := transport.NewFromConfig(cfg, logger)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	s.Dispatcher = dispatcher
	s.Client = backend.New(dispatcher)
	s.Monitor = connectivity.NewMonitor(s.Client, connectivity.OptionsFromConfig(cfg, clock, logger))
	s.Store = document.NewStore(document.OptionsFromConfig(cfg, clock, persister, logger))
	if err := s.Store.Restore(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	s.Render = render.NewController(s.Client, s.Monitor, render.OptionsFromConfig(cfg, clock, logger))
	s.Preview = preview.New(s.ctx, s.Store, s.Client, s.Monitor, preview.OptionsFromConfig(cfg, clock, logger))

	s.unsubs = append(s.unsubs,
		s.Monitor.Subscribe(func(tr connectivity.Transition) {
			if tr.To.Status == connectivity.StatusConnected && tr.From.Status != connectivity.StatusConnected {
				s.Preview.Notify()
			}
		}),
		s.Render.Subscribe(func(j render.Job) {
			if j.Status == render.StatusDone && j.Filename != "" {
				s.Store.SetVideoFilename(j.Filename)
			}
		}),
	)

	s.logger.Debug("session opened",
		logging.String(logging.FieldSessionID, s.ID),
		logging.Bool("exclusive", opts.Exclusive),
		logging.Bool("bridge", dispatcher.HasIPC()))
	return s, nil
}

func (s *Session) acquireLock(ctx context.Context, path string, timeout time.Duration) error {
	lock := flock.New(path)
	if timeout <= 0 {
		ok, err := lock.TryLock()
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "session", "lock", "acquire session lock", err)
		}
		if !ok {
			return ErrLocked
		}
		s.lock = lock
		return nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrConfiguration, "session", "lock", "acquire session lock", err)
	}
	if !ok {
		return ErrLocked
	}
	s.lock = lock
	return nil
}

// Start runs the connectivity monitor in the background until Close.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.running != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.running = done
	go func() {
		defer close(done)
		_ = s.Monitor.Run(ctx)
	}()
}

// Connect probes the backend with exponential backoff until it reports
// connected, and ready when requireReady is set, or wait elapses. A zero wait
// probes once.
func (s *Session) Connect(ctx context.Context, wait time.Duration, requireReady bool) (connectivity.State, error) {
	interval := s.Config.Connectivity.ProbeInterval.Std()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	if interval > policy.InitialInterval {
		policy.MaxInterval = interval
	} else {
		policy.MaxInterval = policy.InitialInterval
	}
	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("waiting for backend", logging.Error(err), logging.Duration("next", next))
		}),
	}
	if wait > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(wait))
	} else {
		retryOpts = append(retryOpts, backoff.WithMaxTries(1))
	}

	attempts := 0
	st, err := backoff.Retry(ctx, func() (connectivity.State, error) {
		attempts++
		st := s.Monitor.Probe(ctx)
		if st.Status != connectivity.StatusConnected {
			if cause := s.Monitor.LastError(); cause != nil {
				return st, fmt.Errorf("backend %s: %w", st.Label(), cause)
			}
			return st, fmt.Errorf("backend %s", st.Label())
		}
		if requireReady && !st.Ready {
			return st, errors.New("backend is still initializing")
		}
		return st, nil
	}, retryOpts...)
	if err != nil {
		if ctx.Err() != nil {
			return s.Monitor.Snapshot(), ctx.Err()
		}
		return s.Monitor.Snapshot(), services.Wrap(services.ErrTimeout, "session", "connect",
			fmt.Sprintf("backend not reachable at %s after %d attempts", s.Endpoint(), attempts), err)
	}
	return st, nil
}

// Endpoint describes where backend calls currently go.
func (s *Session) Endpoint() string {
	if s.Dispatcher.IPCReady(s.ctx) {
		return "bridge " + s.Config.Backend.BridgeSocket
	}
	return s.Config.Backend.HTTPURL
}

// Logger returns the logger the session's components derive from.
func (s *Session) Logger() *slog.Logger {
	return s.base
}

// StatePath returns the state cache path, empty when a custom persister is used.
func (s *Session) StatePath() string {
	if s.state == nil {
		return ""
	}
	return s.state.Path()
}

// State exposes the SQLite state cache, nil when a custom persister is used.
func (s *Session) State() *state.Store {
	return s.state
}

// Close stops background work and releases the lock and state cache.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, running := s.cancel, s.running
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-running
	}
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.Preview.Close()
	s.Render.Close()
	return s.closeResources()
}

func (s *Session) closeResources() error {
	var errs []error
	if s.Store != nil {
		s.Store.Close()
	}
	if s.state != nil {
		if err := s.state.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state: %w", err))
		}
		s.state = nil
	}
	s.releaseLock()
	return errors.Join(errs...)
}

func (s *Session) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release session lock", logging.Error(err))
	}
	s.lock = nil
}

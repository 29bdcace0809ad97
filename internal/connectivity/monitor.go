package connectivity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/backend"
	"cyclemetry/internal/config"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/metrics"
)

// Prober performs one health check.
type Prober interface {
	Health(ctx context.Context) (backend.Health, error)
}

// Options configures a Monitor.
type Options struct {
	Clock      clockwork.Clock
	Interval   time.Duration
	Timeout    time.Duration
	Thresholds Thresholds
	Logger     *slog.Logger
}

// OptionsFromConfig maps the connectivity section onto Options.
func OptionsFromConfig(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) Options {
	return Options{
		Clock:    clock,
		Interval: cfg.Connectivity.ProbeInterval.Std(),
		Timeout:  cfg.Connectivity.ProbeTimeout.Std(),
		Thresholds: Thresholds{
			Startup:   cfg.Connectivity.StartupFailureThreshold,
			Connected: cfg.Connectivity.ConnectedFailureThreshold,
		},
		Logger: logger,
	}
}

// Monitor probes the backend periodically and owns the connection status.
type Monitor struct {
	prober   Prober
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	probeMu sync.Mutex // serializes probes so observations stay ordered

	mu        sync.Mutex
	tracker   *Tracker
	listeners []func(Transition)
	lastErr   error
	epoch     uint64 // bumped by Retry; older probe results are discarded
	retry     chan struct{}
}

// NewMonitor builds a monitor in StatusConnecting.
func NewMonitor(prober Prober, opts Options) *Monitor {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = interval
	}
	return &Monitor{
		prober:   prober,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "connectivity"),
		tracker:  NewTracker(opts.Thresholds, clock.Now),
		retry:    make(chan struct{}, 1),
	}
}

// Run probes immediately and then on every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.Probe(ctx)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			m.Probe(ctx)
		case <-m.retry:
			m.Probe(ctx)
		}
	}
}

// Probe runs one health check with its own timeout and folds the result in.
func (m *Monitor) Probe(ctx context.Context) State {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	health, err := m.prober.Health(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return m.Snapshot()
	}
	probe := Probe{OK: err == nil, Ready: health.Ready, Err: err}
	if err != nil {
		m.logger.Debug("health probe failed", logging.Error(err))
	}
	return m.observe(func(t *Tracker) (Transition, bool) {
		if m.epoch != epoch {
			m.logger.Debug("probe result dropped, started before retry")
			return Transition{}, false
		}
		m.lastErr = err
		return t.Observe(probe), true
	})
}

// Retry resets to StatusConnecting and asks a running loop to probe now.
func (m *Monitor) Retry() {
	m.observe(func(t *Tracker) (Transition, bool) {
		m.epoch++
		return t.Reset(), true
	})
	select {
	case m.retry <- struct{}{}:
	default:
	}
}

// observe runs apply under the state lock. apply returns false to leave the
// state untouched.
func (m *Monitor) observe(apply func(*Tracker) (Transition, bool)) State {
	m.mu.Lock()
	tr, ok := apply(m.tracker)
	if !ok {
		st := m.tracker.State()
		m.mu.Unlock()
		return st
	}
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	metrics.ConnectivityConsecutiveFailures.Set(float64(tr.To.ConsecutiveFailures))
	if !tr.Changed() {
		return tr.To
	}
	if tr.From.Status != tr.To.Status {
		metrics.ConnectivityTransitionsTotal.WithLabelValues(string(tr.From.Status), string(tr.To.Status)).Inc()
	}
	if tr.To.Status == StatusError {
		logging.WarnWithContext(m.logger, "backend unreachable", "connectivity_error",
			logging.Int("consecutive_failures", tr.To.ConsecutiveFailures),
			logging.String(logging.FieldImpact, "previews and renders are paused"),
			logging.String(logging.FieldErrorHint, "Start the backend or run cyclemetry status --retry"))
	} else {
		m.logger.Info("connectivity changed",
			logging.String("from", tr.From.Label()),
			logging.String("to", tr.To.Label()))
	}
	for _, fn := range listeners {
		fn(tr)
	}
	return tr.To
}

// Subscribe registers fn for aggregated changes and returns an unsubscribe func.
func (m *Monitor) Subscribe(fn func(Transition)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = func(Transition) {}
		}
	}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	return m.Snapshot().Status
}

// Connected reports StatusConnected.
func (m *Monitor) Connected() bool {
	return m.Status() == StatusConnected
}

// LastError returns the error of the most recent probe, nil after a success.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.State()
}

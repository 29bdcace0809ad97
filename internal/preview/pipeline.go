package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/backend"
	"cyclemetry/internal/config"
	"cyclemetry/internal/debounce"
	"cyclemetry/internal/document"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/metrics"
	"cyclemetry/internal/services"
	"cyclemetry/internal/transport"
)

// User-facing precondition messages.
const (
	MessageNoActivity = "No GPX file selected"
	MessageNoDocument = "No valid config available"
)

// Generator produces one preview frame.
type Generator interface {
	GenerateFrame(ctx context.Context, req backend.FrameRequest) (backend.Frame, error)
}

// Gate reports whether the backend is reachable.
type Gate interface {
	Connected() bool
}

// Options configures a Pipeline.
type Options struct {
	Clock        clockwork.Clock
	Debounce     time.Duration
	StartupGrace time.Duration
	Logger       *slog.Logger
}

// OptionsFromConfig maps the preview section onto Options.
func OptionsFromConfig(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) Options {
	return Options{
		Clock:        clock,
		Debounce:     cfg.Preview.Debounce.Std(),
		StartupGrace: cfg.Preview.StartupGrace.Std(),
		Logger:       logger,
	}
}

// Outcome is how the most recent preview request ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomePending   Outcome = "pending"
	OutcomeGenerated Outcome = "generated"
	OutcomeBusy      Outcome = "busy"
	OutcomeFailed    Outcome = "failed"
)

type trigger string

const (
	triggerAuto   trigger = "auto"
	triggerManual trigger = "manual"
)

// Pipeline schedules preview requests for a document store.
type Pipeline struct {
	ctx      context.Context
	store    *document.Store
	gen      Generator
	gate     Gate
	clock    clockwork.Clock
	grace    time.Duration
	started  time.Time
	logger   *slog.Logger
	debounce *debounce.Debouncer
	unsub    func()

	mu        sync.Mutex
	token     uint64 // non-zero while a request is in flight
	lastToken uint64
	latest    *request
	closed    bool
}

// request is one issued preview. done is closed once outcome is final.
type request struct {
	done    chan struct{}
	outcome Outcome
}

// New wires a pipeline to store. ctx scopes every request the pipeline issues.
func New(ctx context.Context, store *document.Store, gen Generator, gate Gate, opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	delay := opts.Debounce
	if delay <= 0 {
		delay = time.Second
	}
	p := &Pipeline{
		ctx:     services.WithOperation(ctx, "generate-frame"),
		store:   store,
		gen:     gen,
		gate:    gate,
		clock:   clock,
		grace:   opts.StartupGrace,
		started: clock.Now(),
		logger:  logging.NewComponentLogger(logger, "preview"),
	}
	p.debounce = debounce.New(clock, delay, p.fire)
	p.unsub = store.Subscribe(func(ev document.Event) {
		if ev.Kind == document.EventDirty {
			p.Notify()
		}
	})
	return p
}

// Notify (re)arms the auto-render debounce when the store has unrendered
// changes, auto-render is on, the backend is connected and nothing is in
// flight.
func (p *Pipeline) Notify() {
	if !p.eligible() {
		return
	}
	p.debounce.Trigger()
}

func (p *Pipeline) eligible() bool {
	p.mu.Lock()
	busy := p.closed || p.token != 0
	p.mu.Unlock()
	if busy {
		return false
	}
	snap := p.store.Snapshot()
	return snap.Dirty && snap.AutoRender && p.gate.Connected()
}

func (p *Pipeline) fire() {
	if !p.eligible() {
		p.logger.Debug("auto preview skipped at fire time")
		return
	}
	p.issue(triggerAuto)
}

// Refresh requests a preview now, bypassing the debounce and the dirty flag.
// It reports whether a request was issued.
func (p *Pipeline) Refresh() bool {
	p.debounce.Cancel()
	return p.issue(triggerManual) != nil
}

// Generate issues a manual preview and waits for that request to finish,
// returning its outcome. ok is false when no request was issued because one
// was already in flight or a precondition failed.
func (p *Pipeline) Generate(ctx context.Context) (outcome Outcome, ok bool, err error) {
	p.debounce.Cancel()
	req := p.issue(triggerManual)
	if req == nil {
		return OutcomeNone, false, nil
	}
	select {
	case <-req.done:
	case <-ctx.Done():
		return OutcomePending, true, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return req.outcome, true, nil
}

// InFlight reports whether a request is running.
func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != 0
}

func (p *Pipeline) issue(by trigger) *request {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.token != 0 {
		p.mu.Unlock()
		metrics.PreviewRequestsTotal.WithLabelValues("dropped").Inc()
		p.logger.Debug("preview dropped, request in flight", logging.String("trigger", string(by)))
		return nil
	}

	snap := p.store.Snapshot()
	if msg := precondition(snap); msg != "" {
		p.mu.Unlock()
		metrics.PreviewRequestsTotal.WithLabelValues("rejected").Inc()
		p.surface(by, msg, services.Wrap(services.ErrPrecondition, "preview", "generate frame", msg, nil))
		return nil
	}

	p.lastToken++
	token := p.lastToken
	p.token = token
	req := &request{done: make(chan struct{}), outcome: OutcomePending}
	p.latest = req
	p.mu.Unlock()

	snap = p.store.BeginGenerating()
	go p.run(token, by, snap, req)
	return req
}

func precondition(snap document.Snapshot) string {
	if !snap.HasActivity() {
		return MessageNoActivity
	}
	if _, ok := snap.Document.Scene(); !ok {
		return MessageNoDocument
	}
	return ""
}

func (p *Pipeline) run(token uint64, by trigger, snap document.Snapshot, r *request) {
	defer close(r.done)

	req := backend.FrameRequest{
		Document: snap.Document,
		Activity: snap.Activity,
		Second:   snap.Timeline.Cursor,
	}
	started := p.clock.Now()
	frame, err := p.gen.GenerateFrame(p.ctx, req)

	outcome := OutcomeFailed
	switch {
	case err == nil:
		outcome = OutcomeGenerated
	case errors.Is(err, services.ErrBusy):
		outcome = OutcomeBusy
	}

	p.mu.Lock()
	current := p.token == token
	r.outcome = outcome
	if current {
		p.token = 0
	}
	p.mu.Unlock()
	if !current {
		return
	}

	switch {
	case err == nil:
		metrics.PreviewRequestsTotal.WithLabelValues("succeeded").Inc()
		p.logger.Debug("preview generated",
			logging.String("filename", frame.Filename),
			logging.Int("second", req.Second),
			logging.Duration("elapsed", p.clock.Since(started)))
		p.store.FinishGenerating(frame.Filename)
	case errors.Is(err, services.ErrBusy):
		metrics.PreviewRequestsTotal.WithLabelValues("busy").Inc()
		p.logger.Debug("preview skipped, backend busy", logging.Error(err))
		p.store.FailGenerating("")
	default:
		p.store.FailGenerating("")
		p.surface(by, userMessage(err), err)
	}

	p.Notify()
}

// surface shows msg on the store's error field unless the failure happened
// during the startup grace period of an automatic request.
func (p *Pipeline) surface(by trigger, msg string, err error) {
	if by == triggerAuto && p.clock.Since(p.started) < p.grace {
		metrics.PreviewRequestsTotal.WithLabelValues("suppressed").Inc()
		p.logger.Info("preview error hidden during startup", logging.Error(err))
		return
	}
	if !errors.Is(err, services.ErrPrecondition) {
		metrics.PreviewRequestsTotal.WithLabelValues("failed").Inc()
		logging.WarnWithContext(p.logger, "preview failed", "preview_failed",
			logging.String("trigger", string(by)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the preview frame is stale"),
			logging.String(logging.FieldErrorHint, "Check the backend log or run cyclemetry preview"))
	}
	p.store.SetError(msg)
}

func userMessage(err error) string {
	var terr *transport.Error
	if errors.As(err, &terr) && terr.Message != "" {
		return terr.Message
	}
	return err.Error()
}

// LastOutcome reports how the most recently issued request ended. A busy
// backend leaves the previous frame in place, so callers must not treat the
// store's image as new unless this is OutcomeGenerated.
func (p *Pipeline) LastOutcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return OutcomeNone
	}
	return p.latest.outcome
}

// Close stops the debounce timer and waits for the in-flight request.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.debounce.Stop()
	p.unsub()
	_ = p.Wait(context.Background())
}

// Wait blocks until the most recently issued request finishes or ctx ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	latest := p.latest
	p.mu.Unlock()
	if latest == nil {
		return nil
	}
	select {
	case <-latest.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

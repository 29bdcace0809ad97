package render

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/backend"
	"cyclemetry/internal/config"
	"cyclemetry/internal/document"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/metrics"
	"cyclemetry/internal/services"
	"cyclemetry/internal/transport"
)

// Backend is the subset of the backend client a render needs.
type Backend interface {
	RenderVideo(ctx context.Context, req backend.RenderRequest) (backend.RenderResult, error)
	RenderProgress(ctx context.Context) (backend.Progress, error)
	CancelRender(ctx context.Context) (backend.Ack, error)
	OpenVideo(ctx context.Context, filename string) (backend.Ack, error)
}

// Gate reports whether the backend is reachable.
type Gate interface {
	Connected() bool
}

// Request is a render of document over activity.
type Request struct {
	Document document.Document
	Activity string
}

// Options configures a Controller.
type Options struct {
	Clock          clockwork.Clock
	PollInterval   time.Duration
	OpenOnComplete bool
	Logger         *slog.Logger
}

// OptionsFromConfig maps the render section onto Options.
func OptionsFromConfig(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) Options {
	return Options{
		Clock:          clock,
		PollInterval:   cfg.Render.PollInterval.Std(),
		OpenOnComplete: cfg.Render.OpenOnComplete,
		Logger:         logger,
	}
}

type outcome struct {
	result backend.RenderResult
	err    error
}

// run is the bookkeeping of the active job's goroutines.
type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the single render job.
type Controller struct {
	backend  Backend
	gate     Gate
	clock    clockwork.Clock
	interval time.Duration
	open     bool
	logger   *slog.Logger
	sampler  *logging.ProgressSampler

	mu        sync.Mutex
	job       Job
	run       *run
	listeners []func(Job)
	queue     []Job
	draining  bool
}

// NewController builds an idle controller.
func NewController(b Backend, gate Gate, opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Controller{
		backend:  b,
		gate:     gate,
		clock:    clock,
		interval: interval,
		open:     opts.OpenOnComplete,
		logger:   logging.NewComponentLogger(logger, "render"),
		sampler:  logging.NewProgressSampler(5),
		job:      Job{Status: StatusIdle},
	}
}

// Job returns a copy of the current job.
func (c *Controller) Job() Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job.clone()
}

// Subscribe registers fn for every job change and returns an unsubscribe func.
func (c *Controller) Subscribe(fn func(Job)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
	idx := len(c.listeners) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.listeners) {
			c.listeners[idx] = nil
		}
	}
}

// publishLocked queues the current job for delivery by drain.
func (c *Controller) publishLocked() {
	c.queue = append(c.queue, c.job.clone())
}

func (c *Controller) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		job := c.queue[0]
		c.queue = c.queue[1:]
		fns := slices.Clone(c.listeners)
		c.mu.Unlock()
		for _, fn := range fns {
			if fn != nil {
				fn(job)
			}
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

// Validate checks a request without starting it.
func (c *Controller) Validate(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked(req)
}

func (c *Controller) validateLocked(req Request) error {
	if c.job.Status.Active() {
		return ErrJobActive
	}
	if c.gate != nil && !c.gate.Connected() {
		return ErrBackendUnavailable
	}
	if _, ok := req.Document.Scene(); !ok {
		return ErrNoDocument
	}
	if req.Activity == "" {
		return ErrNoActivity
	}
	start, end, ok := req.Document.Bounds()
	if !ok {
		return ErrNoBounds
	}
	if start < 0 || end <= start {
		return ErrInvalidBounds
	}
	return nil
}

// Start validates req and launches the render. Rejections issue no network
// call. The job outlives ctx cancellation; use Cancel to stop it.
func (c *Controller) Start(ctx context.Context, req Request) (Job, error) {
	c.mu.Lock()
	if err := c.validateLocked(req); err != nil {
		c.mu.Unlock()
		metrics.RenderJobsTotal.WithLabelValues("rejected").Inc()
		c.logger.Debug("render rejected", logging.Error(err))
		return Job{}, err
	}
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = services.WithOperation(services.WithRequestID(runCtx, id), "render-video")
	r := &run{id: id, cancel: cancel, done: make(chan struct{})}
	c.run = r
	c.job = Job{ID: id, Status: StatusRunning, Message: "Starting render", StartedAt: c.clock.Now()}
	c.sampler.Reset()
	c.publishLocked()
	job := c.job.clone()
	c.mu.Unlock()
	c.drain()

	c.logger.Info("render started",
		logging.String(logging.FieldJobID, id),
		logging.String("activity", req.Activity))

	go c.execute(runCtx, r, backend.RenderRequest{Document: req.Document.Clone(), Activity: req.Activity})
	return job, nil
}

func (c *Controller) execute(ctx context.Context, r *run, req backend.RenderRequest) {
	defer close(r.done)
	defer r.cancel()

	results := make(chan outcome, 1)
	go func() {
		res, err := c.backend.RenderVideo(ctx, req)
		results <- outcome{result: res, err: err}
	}()

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	var returned *outcome
	sawRendering := false
	for {
		select {
		case <-ctx.Done():
			c.finish(r, StatusError, "", "Render abandoned", services.Wrap(services.ErrTransport, "render", "poll", "render abandoned", ctx.Err()))
			return
		case o := <-results:
			returned = &o
			results = nil
			if c.poll(ctx, r, results, returned, &sawRendering) {
				return
			}
		case <-ticker.Chan():
			if c.poll(ctx, r, results, returned, &sawRendering) {
				return
			}
		}
	}
}

// poll fetches progress once and reports whether the job reached a terminal
// state. Terminal statuses are honoured only once this job has seen
// "rendering" or its render call has returned, so leftovers of an earlier
// render are ignored.
func (c *Controller) poll(ctx context.Context, r *run, results <-chan outcome, returned *outcome, sawRendering *bool) bool {
	p, err := c.backend.RenderProgress(ctx)
	if err != nil {
		c.logger.Debug("render progress poll failed", logging.String(logging.FieldJobID, r.id), logging.Error(err))
		if returned != nil {
			c.finishFromOutcome(r, *returned)
			return true
		}
		return false
	}

	switch p.Status {
	case backend.RenderRendering:
		*sawRendering = true
		c.progress(r, p)
	case backend.RenderComplete, backend.RenderError, backend.RenderCancelled:
		if !*sawRendering && returned == nil {
			c.logger.Debug("ignoring stale terminal progress", logging.String("status", p.Status))
			return false
		}
		c.progress(r, p)
		return c.terminal(ctx, r, p, results, returned)
	}

	if returned != nil {
		c.finishFromOutcome(r, *returned)
		return true
	}
	return false
}

func (c *Controller) terminal(ctx context.Context, r *run, p backend.Progress, results <-chan outcome, returned *outcome) bool {
	switch p.Status {
	case backend.RenderComplete:
		if returned == nil {
			select {
			case o := <-results:
				returned = &o
			case <-ctx.Done():
				c.finish(r, StatusError, "", "Render abandoned", services.Wrap(services.ErrTransport, "render", "wait", "render abandoned", ctx.Err()))
				return true
			}
		}
		c.finishFromOutcome(r, *returned)
	case backend.RenderCancelled:
		c.finish(r, StatusCancelled, "", messageOr(p.Message, "Rendering cancelled by user"), nil)
	default:
		msg := messageOr(p.Message, "Render failed")
		c.finish(r, StatusError, "", msg, services.Wrap(services.ErrBackend, "render", "poll", msg, nil))
	}
	return true
}

func (c *Controller) finishFromOutcome(r *run, o outcome) {
	if o.err == nil {
		c.finish(r, StatusDone, o.result.Filename, messageOr(o.result.Message, "Render complete"), nil)
		return
	}
	var terr *transport.Error
	if errors.As(o.err, &terr) && terr.Cancelled {
		c.finish(r, StatusCancelled, "", messageOr(terr.Message, "Rendering cancelled by user"), nil)
		return
	}
	msg := o.err.Error()
	if terr != nil && terr.Message != "" {
		msg = terr.Message
	}
	c.finish(r, StatusError, "", msg, o.err)
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

func (c *Controller) progress(r *run, p backend.Progress) {
	c.mu.Lock()
	if c.run != r || !c.job.Status.Active() {
		c.mu.Unlock()
		return
	}
	j := &c.job
	j.Current = p.Current
	j.Total = p.Total
	j.Percent = Percent(p.Current, p.Total)
	j.Finalizing = j.Percent >= 100 && j.Status == StatusRunning
	if p.Message != "" {
		j.Message = p.Message
	}
	j.EstimatedSecondsRemaining = p.EstimatedSecondsRemaining
	phase := string(j.Status)
	if j.Finalizing {
		phase = "finalizing"
	}
	logIt := c.sampler.ShouldLog(float64(j.Percent), phase)
	job := j.clone()
	c.publishLocked()
	c.mu.Unlock()
	c.drain()

	if logIt {
		c.logger.Info("render progress",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("percent", job.Percent),
			logging.String("phase", phase),
			logging.String("remaining", job.Remaining()))
	}
}

func (c *Controller) finish(r *run, status Status, filename, message string, err error) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	j := &c.job
	j.Status = status
	j.Finalizing = false
	j.Message = message
	j.Err = err
	j.FinishedAt = c.clock.Now()
	if status == StatusDone {
		j.Filename = filename
		j.Percent = 100
		j.EstimatedSecondsRemaining = nil
	}
	job := j.clone()
	c.publishLocked()
	c.mu.Unlock()
	c.drain()

	metrics.RenderJobsTotal.WithLabelValues(string(status)).Inc()
	attrs := []logging.Attr{
		logging.String(logging.FieldJobID, job.ID),
		logging.String("status", string(status)),
		logging.Duration("elapsed", job.FinishedAt.Sub(job.StartedAt)),
	}
	switch status {
	case StatusDone:
		c.logger.Info("render finished", logging.Args(append(attrs, logging.String("filename", filename))...)...)
		if c.open && filename != "" {
			c.openVideo(filename)
		}
	case StatusCancelled:
		c.logger.Info("render cancelled", logging.Args(attrs...)...)
	default:
		logging.ErrorWithContext(c.logger, "render failed", "render_failed",
			append(attrs,
				logging.Error(err),
				logging.String(logging.FieldImpact, "no video was produced"),
				logging.String(logging.FieldErrorHint, "Check the backend log, then run cyclemetry render again"))...)
	}
}

// openVideo asks the backend to show the finished video. Failures are only
// logged.
func (c *Controller) openVideo(filename string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.backend.OpenVideo(ctx, filename); err != nil {
		logging.WarnWithContext(c.logger, "could not open rendered video", "open_video_failed",
			logging.String("filename", filename),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the video was rendered but not opened"),
			logging.String(logging.FieldErrorHint, "Run cyclemetry open video"))
	}
}

// Cancel asks the backend to stop the running job. The job moves to
// cancelling at once and ends when progress reports it. If the request
// cannot be sent the job returns to running.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.job.Status != StatusRunning {
		status := c.job.Status
		c.mu.Unlock()
		if status == StatusCancelling {
			return nil
		}
		return ErrNoActiveJob
	}
	r := c.run
	c.job.Status = StatusCancelling
	c.job.Finalizing = false
	c.job.Message = "Cancelling render"
	c.publishLocked()
	c.mu.Unlock()
	c.drain()

	if _, err := c.backend.CancelRender(ctx); err != nil {
		c.mu.Lock()
		if c.run == r && c.job.Status == StatusCancelling {
			c.job.Status = StatusRunning
			c.job.Message = "Cancel failed, still rendering"
			c.publishLocked()
		}
		c.mu.Unlock()
		c.drain()
		logging.WarnWithContext(c.logger, "render cancel not delivered", "render_cancel_failed",
			logging.String(logging.FieldJobID, r.id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the render keeps running"),
			logging.String(logging.FieldErrorHint, "Retry with cyclemetry cancel"))
		return services.Wrap(services.ErrTransport, "render", "cancel", "send cancel", err)
	}
	c.logger.Info("render cancel requested", logging.String(logging.FieldJobID, r.id))
	return nil
}

// Wait blocks until the current job is terminal and returns it with its error.
func (c *Controller) Wait(ctx context.Context) (Job, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return c.Job(), ctx.Err()
		}
	}
	job := c.Job()
	return job, job.Err
}

// Close abandons the running job, if any, and waits for its goroutine.
func (c *Controller) Close() {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

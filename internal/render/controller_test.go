package render_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/backend"
	"cyclemetry/internal/document"
	"cyclemetry/internal/render"
	"cyclemetry/internal/services"
	"cyclemetry/internal/testsupport"
	"cyclemetry/internal/transport"
)

type fakeBackend struct {
	mu        sync.Mutex
	progress  []backend.Progress
	result    backend.RenderResult
	renderErr error
	cancelErr error
	openErr   error
	renders   int
	polls     int
	cancels   int
	opened    []string

	release     chan struct{}
	releaseOnce sync.Once
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		result:  backend.RenderResult{Filename: "video_1.mov", Message: "Video rendered successfully"},
		release: make(chan struct{}),
	}
}

func (f *fakeBackend) finishRender() {
	f.releaseOnce.Do(func() { close(f.release) })
}

func (f *fakeBackend) RenderVideo(ctx context.Context, _ backend.RenderRequest) (backend.RenderResult, error) {
	f.mu.Lock()
	f.renders++
	f.mu.Unlock()
	select {
	case <-f.release:
	case <-ctx.Done():
		return backend.RenderResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.renderErr
}

func (f *fakeBackend) RenderProgress(context.Context) (backend.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	switch len(f.progress) {
	case 0:
		return backend.Progress{Status: backend.RenderIdle}, nil
	case 1:
		return f.progress[0], nil
	default:
		p := f.progress[0]
		f.progress = f.progress[1:]
		return p, nil
	}
}

func (f *fakeBackend) CancelRender(context.Context) (backend.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.cancelErr != nil {
		return backend.Ack{}, f.cancelErr
	}
	return backend.Ack{Success: true, Message: "Cancellation requested"}, nil
}

func (f *fakeBackend) OpenVideo(_ context.Context, filename string) (backend.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, filename)
	if f.openErr != nil {
		return backend.Ack{}, f.openErr
	}
	return backend.Ack{Success: true}, nil
}

func (f *fakeBackend) setProgress(steps ...backend.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = steps
}

func (f *fakeBackend) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeBackend) openedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

type fakeGate struct{ connected bool }

func (g fakeGate) Connected() bool { return g.connected }

func rendering(current, total float64) backend.Progress {
	return backend.Progress{Status: backend.RenderRendering, Current: current, Total: total, Message: "Rendering frames"}
}

func validRequest() render.Request {
	return render.Request{
		Document: document.Document{"scene": map[string]any{"start": 0, "end": 120}},
		Activity: "ride.gpx",
	}
}

type harness struct {
	c       *render.Controller
	fake    *fakeBackend
	clock   *clockwork.FakeClock
	polling bool
}

func newHarness(t *testing.T, open bool) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fake := newFakeBackend()
	c := render.NewController(fake, fakeGate{connected: true}, render.Options{
		Clock:          clock,
		PollInterval:   500 * time.Millisecond,
		OpenOnComplete: open,
	})
	t.Cleanup(func() {
		fake.finishRender()
		c.Close()
	})
	return &harness{c: c, fake: fake, clock: clock}
}

func (h *harness) start(t *testing.T) render.Job {
	t.Helper()
	job, err := h.c.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return job
}

// tick advances one poll interval and waits for the resulting poll.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	if !h.polling {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for poll ticker: %v", err)
		}
		h.polling = true
	}
	n := h.fake.pollCount()
	h.clock.Advance(500 * time.Millisecond)
	waitFor(t, func() bool { return h.fake.pollCount() > n })
}

func (h *harness) wait(t *testing.T) (render.Job, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := h.c.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("job did not finish, last state %+v", job)
	}
	return job, err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartRejectsWithoutNetworkCalls(t *testing.T) {
	fake := testsupport.NewBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	dispatcher, err := transport.NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	client := backend.New(dispatcher)

	scene := func(scene map[string]any) document.Document { return document.Document{"scene": scene} }
	cases := []struct {
		name      string
		connected bool
		req       render.Request
		want      error
	}{
		{"disconnected", false, validRequest(), render.ErrBackendUnavailable},
		{"no document", true, render.Request{Activity: "ride.gpx"}, render.ErrNoDocument},
		{"no activity", true, render.Request{Document: validRequest().Document}, render.ErrNoActivity},
		{"no bounds", true, render.Request{Document: scene(map[string]any{"start": 0}), Activity: "ride.gpx"}, render.ErrNoBounds},
		{"end before start", true, render.Request{Document: scene(map[string]any{"start": 50, "end": 10}), Activity: "ride.gpx"}, render.ErrInvalidBounds},
		{"empty window", true, render.Request{Document: scene(map[string]any{"start": 10, "end": 10}), Activity: "ride.gpx"}, render.ErrInvalidBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := render.NewController(client, fakeGate{connected: tc.connected}, render.Options{})
			_, err := c.Start(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, services.ErrPrecondition) {
				t.Fatalf("expected precondition marker, got %v", err)
			}
			if got := c.Job().Status; got != render.StatusIdle {
				t.Fatalf("rejected start changed status to %s", got)
			}
		})
	}
	if n := fake.TotalCalls(); n != 0 {
		t.Fatalf("rejected renders made %d backend calls", n)
	}
}

func TestSecondStartRejectedWhileActive(t *testing.T) {
	h := newHarness(t, false)
	h.start(t)

	if _, err := h.c.Start(context.Background(), validRequest()); !errors.Is(err, render.ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}
}

func TestProgressFinalizingAndDone(t *testing.T) {
	h := newHarness(t, true)
	h.fake.setProgress(rendering(50, 100), rendering(100, 100), backend.Progress{Status: backend.RenderComplete, Current: 100, Total: 100})
	job := h.start(t)
	if job.Status != render.StatusRunning || job.ID == "" {
		t.Fatalf("unexpected started job %+v", job)
	}

	h.tick(t)
	waitFor(t, func() bool { return h.c.Job().Percent == 50 })
	if h.c.Job().Finalizing {
		t.Fatal("finalizing reported at 50%")
	}

	h.tick(t)
	waitFor(t, func() bool { return h.c.Job().Finalizing })
	if got := h.c.Job().Status; got != render.StatusRunning {
		t.Fatalf("finalizing job status = %s", got)
	}

	h.fake.finishRender()
	done, err := h.wait(t)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if done.Status != render.StatusDone || done.Filename != "video_1.mov" || done.Finalizing {
		t.Fatalf("unexpected final job %+v", done)
	}
	if opened := h.fake.openedFiles(); len(opened) != 1 || opened[0] != "video_1.mov" {
		t.Fatalf("expected video opened once, got %v", opened)
	}
}

func TestStaleTerminalStatusIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.fake.setProgress(
		backend.Progress{Status: backend.RenderComplete, Current: 10, Total: 10},
		rendering(10, 100),
		backend.Progress{Status: backend.RenderComplete, Current: 100, Total: 100},
	)
	h.start(t)

	h.tick(t)
	if got := h.c.Job().Status; got != render.StatusRunning {
		t.Fatalf("stale status ended the job: %s", got)
	}
	h.tick(t)
	waitFor(t, func() bool { return h.c.Job().Percent == 10 })

	h.fake.finishRender()
	done, err := h.wait(t)
	if err != nil || done.Status != render.StatusDone {
		t.Fatalf("expected done, got %+v %v", done, err)
	}
	if opened := h.fake.openedFiles(); len(opened) != 0 {
		t.Fatalf("open-on-complete disabled but opened %v", opened)
	}
}

func TestRenderOutcomeDecidesWhenPollIsNotTerminal(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status render.Status
	}{
		{"success", nil, render.StatusDone},
		{"cancelled", &transport.Error{Op: transport.OpRenderVideo, Status: 400, Message: "Rendering cancelled by user", Cancelled: true}, render.StatusCancelled},
		{"failure", errors.New("encoder crashed"), render.StatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.fake.renderErr = tc.err
			h.fake.finishRender()
			h.start(t)

			job, err := h.wait(t)
			if job.Status != tc.status {
				t.Fatalf("status = %s, want %s (%v)", job.Status, tc.status, err)
			}
			if tc.status == render.StatusError && err == nil {
				t.Fatal("expected error for failed render")
			}
			if tc.status != render.StatusError && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestCancelMovesThroughCancelling(t *testing.T) {
	h := newHarness(t, true)
	h.fake.setProgress(rendering(30, 100))
	h.start(t)
	h.tick(t)

	if err := h.c.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := h.c.Job().Status; got != render.StatusCancelling {
		t.Fatalf("status after cancel = %s", got)
	}

	h.fake.setProgress(rendering(40, 100), backend.Progress{Status: backend.RenderCancelled, Message: "Rendering cancelled by user"})
	h.tick(t)
	waitFor(t, func() bool { return h.c.Job().Percent == 40 })
	if got := h.c.Job().Status; got != render.StatusCancelling {
		t.Fatalf("progress reverted cancelling to %s", got)
	}

	h.tick(t)
	job, err := h.wait(t)
	if err != nil || job.Status != render.StatusCancelled {
		t.Fatalf("expected cancelled, got %+v %v", job, err)
	}
	if opened := h.fake.openedFiles(); len(opened) != 0 {
		t.Fatalf("cancelled render opened %v", opened)
	}
}

func TestCancelFailureReturnsToRunning(t *testing.T) {
	h := newHarness(t, false)
	h.fake.cancelErr = errors.New("connection refused")
	h.start(t)

	if err := h.c.Cancel(context.Background()); !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if got := h.c.Job().Status; got != render.StatusRunning {
		t.Fatalf("status after failed cancel = %s", got)
	}
}

func TestCancelWithoutJob(t *testing.T) {
	h := newHarness(t, false)
	if err := h.c.Cancel(context.Background()); !errors.Is(err, render.ErrNoActiveJob) {
		t.Fatalf("expected ErrNoActiveJob, got %v", err)
	}
}

func TestBackendErrorStatusFailsJob(t *testing.T) {
	h := newHarness(t, true)
	h.fake.setProgress(rendering(5, 100), backend.Progress{Status: backend.RenderError, Message: "ffmpeg exited with status 1"})
	h.start(t)
	h.tick(t)
	h.tick(t)

	job, err := h.wait(t)
	if job.Status != render.StatusError || !errors.Is(err, services.ErrBackend) {
		t.Fatalf("expected backend error, got %+v %v", job, err)
	}
	if job.Message != "ffmpeg exited with status 1" {
		t.Fatalf("message = %q", job.Message)
	}
}

func TestOpenVideoFailureIsOnlyLogged(t *testing.T) {
	h := newHarness(t, true)
	h.fake.openErr = errors.New("no player")
	h.fake.finishRender()
	h.start(t)

	job, err := h.wait(t)
	if err != nil || job.Status != render.StatusDone {
		t.Fatalf("open failure leaked into job: %+v %v", job, err)
	}
}

func TestNewJobAfterTerminal(t *testing.T) {
	h := newHarness(t, false)
	h.fake.finishRender()
	first := h.start(t)
	if _, err := h.wait(t); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	second := h.start(t)
	if second.ID == first.ID || second.Status != render.StatusRunning || second.Filename != "" {
		t.Fatalf("expected fresh job, got %+v", second)
	}
	if _, err := h.wait(t); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSubscribersSeeEveryTransition(t *testing.T) {
	h := newHarness(t, false)
	var mu sync.Mutex
	var statuses []render.Status
	h.c.Subscribe(func(j render.Job) {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 || statuses[len(statuses)-1] != j.Status {
			statuses = append(statuses, j.Status)
		}
	})
	h.fake.finishRender()
	h.start(t)
	h.wait(t)

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 || statuses[0] != render.StatusRunning || statuses[1] != render.StatusDone {
		t.Fatalf("unexpected transitions %v", statuses)
	}
}

func TestPercentAndRemaining(t *testing.T) {
	if got := render.Percent(50, 0); got != 0 {
		t.Fatalf("unknown total percent = %d", got)
	}
	if got := render.Percent(99.9, 100); got != 99 {
		t.Fatalf("percent must floor, got %d", got)
	}
	if got := render.Percent(150, 100); got != 100 {
		t.Fatalf("percent must cap at 100, got %d", got)
	}
	if got := render.FormatRemaining(nil); got != "--:--" {
		t.Fatalf("unknown remaining = %q", got)
	}
	secs := 125
	if got := render.FormatRemaining(&secs); got != "2:05" {
		t.Fatalf("remaining = %q", got)
	}
}

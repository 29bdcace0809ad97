package preview_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/backend"
	"cyclemetry/internal/document"
	"cyclemetry/internal/preview"
	"cyclemetry/internal/testsupport"
	"cyclemetry/internal/transport"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []backend.FrameRequest
	err   error
	block chan struct{}
}

func (g *fakeGenerator) GenerateFrame(ctx context.Context, req backend.FrameRequest) (backend.Frame, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	n := len(g.calls)
	block, err := g.block, g.err
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return backend.Frame{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Frame{}, err
	}
	return backend.Frame{Filename: "preview_" + string(rune('0'+n)) + ".png"}, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) last() backend.FrameRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

type fakeGate struct{ connected atomic.Bool }

func (g *fakeGate) Connected() bool { return g.connected.Load() }

func connectedGate() *fakeGate {
	g := &fakeGate{}
	g.connected.Store(true)
	return g
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

func blockUntilTimers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

func template() document.Document {
	return document.Document{
		"scene":  map[string]any{"start": 0, "end": 120, "fps": 30},
		"labels": []any{},
	}
}

// readyStore returns a store with a document and an activity whose dirty flag
// has been cleared.
func readyStore(t *testing.T, clock clockwork.Clock) *document.Store {
	t.Helper()
	store := document.NewStore(document.Options{Clock: clock, AutoRender: true})
	t.Cleanup(store.Close)
	store.LoadDocument(template())
	if err := store.SetActivity("ride.gpx", 600); err != nil {
		t.Fatalf("SetActivity: %v", err)
	}
	store.BeginGenerating()
	store.FinishGenerating("")
	return store
}

func newPipeline(t *testing.T, store *document.Store, gen preview.Generator, gate preview.Gate, clock clockwork.Clock, grace time.Duration) *preview.Pipeline {
	t.Helper()
	p := preview.New(context.Background(), store, gen, gate, preview.Options{
		Clock:        clock,
		Debounce:     time.Second,
		StartupGrace: grace,
	})
	t.Cleanup(p.Close)
	return p
}

func TestDemoActivityEditProducesOneDebouncedPreview(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := document.NewStore(document.Options{Clock: clock, AutoRender: true})
	t.Cleanup(store.Close)
	store.LoadDocument(template())
	gen := &fakeGenerator{}
	p := newPipeline(t, store, gen, connectedGate(), clock, 0)

	store.LoadDemoActivity()
	clock.Advance(150 * time.Millisecond)
	doc := store.Document()
	doc.SetBounds(0, 3000)
	if !store.EditDocument(doc) {
		t.Fatal("expected edit to apply")
	}

	want := document.Timeline{Start: 0, End: 3000, Cursor: 0, Duration: document.DemoActivityDuration}
	if got := store.Timeline(); got != want {
		t.Fatalf("timeline = %+v, want %+v", got, want)
	}

	blockUntilTimers(t, clock, 1)
	clock.Advance(999 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if gen.count() != 0 {
		t.Fatal("preview issued before the quiet period elapsed")
	}

	clock.Advance(time.Millisecond)
	waitFor(t, func() bool { return gen.count() == 1 && !p.InFlight() })

	req := gen.last()
	if req.Activity != document.DemoActivity || req.Second != 0 {
		t.Fatalf("unexpected request %+v", req)
	}
	snap := store.Snapshot()
	if snap.Dirty || snap.Generating || snap.ImageFilename != "preview_1.png" {
		t.Fatalf("unexpected store state %+v", snap)
	}

	clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if gen.count() != 1 {
		t.Fatalf("expected exactly one preview, got %d", gen.count())
	}
}

func TestOverlappingRequestsIssueOneCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	gen := &fakeGenerator{block: make(chan struct{})}
	p := newPipeline(t, store, gen, connectedGate(), clock, 0)

	if !p.Refresh() {
		t.Fatal("expected first refresh to issue")
	}
	waitFor(t, func() bool { return gen.count() == 1 })
	if p.Refresh() || p.Refresh() {
		t.Fatal("expected overlapping refreshes to be dropped")
	}
	if !store.Snapshot().Generating {
		t.Fatal("expected generating flag while in flight")
	}
	if got := p.LastOutcome(); got != preview.OutcomePending {
		t.Fatalf("LastOutcome in flight = %q", got)
	}

	close(gen.block)
	waitFor(t, func() bool { return !p.InFlight() })
	if gen.count() != 1 {
		t.Fatalf("expected one backend call, got %d", gen.count())
	}
	if got := p.LastOutcome(); got != preview.OutcomeGenerated {
		t.Fatalf("LastOutcome = %q, want generated", got)
	}
}

func TestRefreshRequiresActivity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := document.NewStore(document.Options{Clock: clock, AutoRender: true})
	t.Cleanup(store.Close)
	store.LoadDocument(template())
	gen := &fakeGenerator{}
	p := newPipeline(t, store, gen, connectedGate(), clock, time.Hour)

	if p.Refresh() {
		t.Fatal("expected refresh to be rejected")
	}
	if got := store.Snapshot().ErrorMessage; got != preview.MessageNoActivity {
		t.Fatalf("error message = %q", got)
	}
	if gen.count() != 0 {
		t.Fatal("rejected refresh reached the backend")
	}
}

func TestRefreshRequiresDocument(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := document.NewStore(document.Options{Clock: clock, AutoRender: true})
	t.Cleanup(store.Close)
	if err := store.SetActivity("ride.gpx", 600); err != nil {
		t.Fatalf("SetActivity: %v", err)
	}
	gen := &fakeGenerator{}
	p := newPipeline(t, store, gen, connectedGate(), clock, 0)

	if p.Refresh() {
		t.Fatal("expected refresh to be rejected")
	}
	if got := store.Snapshot().ErrorMessage; got != preview.MessageNoDocument {
		t.Fatalf("error message = %q", got)
	}
	if gen.count() != 0 {
		t.Fatal("rejected refresh reached the backend")
	}
}

func TestBusyBackendIsBenign(t *testing.T) {
	fake := testsupport.NewBackend(t)
	fake.Handle(testsupport.RouteDemo, func(w http.ResponseWriter, _ *http.Request) {
		testsupport.WriteError(w, http.StatusTooManyRequests, "Demo generation already in progress", "BUSY")
	})
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	dispatcher, err := transport.NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	client := backend.New(dispatcher)

	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	store.SetError("earlier failure")
	store.DismissError()
	p := newPipeline(t, store, client, connectedGate(), clock, 0)

	if !p.Refresh() {
		t.Fatal("expected refresh to issue")
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	snap := store.Snapshot()
	if snap.ErrorMessage != "" || snap.Generating {
		t.Fatalf("busy reply must not surface, got %+v", snap)
	}
	if fake.Calls(testsupport.RouteDemo) != 1 {
		t.Fatalf("expected one demo call, got %d", fake.Calls(testsupport.RouteDemo))
	}
	if got := p.LastOutcome(); got != preview.OutcomeBusy {
		t.Fatalf("LastOutcome = %q, want busy", got)
	}
}

func TestErrorsHiddenDuringStartupGrace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	gen := &fakeGenerator{err: errors.New("render exploded")}
	p := newPipeline(t, store, gen, connectedGate(), clock, 20*time.Second)

	store.MarkDirty()
	blockUntilTimers(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return gen.count() == 1 && !p.InFlight() })
	if got := store.Snapshot().ErrorMessage; got != "" {
		t.Fatalf("error surfaced during grace: %q", got)
	}

	clock.Advance(20 * time.Second)
	store.MarkDirty()
	blockUntilTimers(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return store.Snapshot().ErrorMessage == "render exploded" })
}

func TestManualRefreshSurfacesErrorsDuringGrace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	gen := &fakeGenerator{err: errors.New("render exploded")}
	p := newPipeline(t, store, gen, connectedGate(), clock, 20*time.Second)

	p.Refresh()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := store.Snapshot().ErrorMessage; got != "render exploded" {
		t.Fatalf("error message = %q", got)
	}
	if got := p.LastOutcome(); got != preview.OutcomeFailed {
		t.Fatalf("LastOutcome = %q, want failed", got)
	}
}

func TestDisconnectedBackendGatesAutoPreview(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	gen := &fakeGenerator{}
	gate := &fakeGate{}
	p := newPipeline(t, store, gen, gate, clock, 0)

	store.MarkDirty()
	clock.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if gen.count() != 0 {
		t.Fatal("preview issued while disconnected")
	}

	gate.connected.Store(true)
	p.Notify()
	blockUntilTimers(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return gen.count() == 1 })
}

func TestAutoRenderToggle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	store.SetAutoRender(false)
	gen := &fakeGenerator{}
	newPipeline(t, store, gen, connectedGate(), clock, 0)

	store.MarkDirty()
	clock.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if gen.count() != 0 {
		t.Fatal("preview issued with auto-render off")
	}

	store.SetAutoRender(true)
	blockUntilTimers(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return gen.count() == 1 })
}

func TestChangesDuringFlightTriggerFollowUp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	gen := &fakeGenerator{block: make(chan struct{})}
	p := newPipeline(t, store, gen, connectedGate(), clock, 0)

	store.MarkDirty()
	blockUntilTimers(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return gen.count() == 1 })

	store.SetCursor(42)
	if !store.Snapshot().Dirty {
		t.Fatal("expected dirty change during flight")
	}

	close(gen.block)
	waitFor(t, func() bool { return !p.InFlight() })
	blockUntilTimers(t, clock, 1)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return gen.count() == 2 })
	if got := gen.last().Second; got != 42 {
		t.Fatalf("follow-up preview second = %d, want 42", got)
	}
}

func TestCloseWaitsForInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	gen := &fakeGenerator{block: make(chan struct{})}
	p := preview.New(context.Background(), store, gen, connectedGate(), preview.Options{Clock: clock})

	p.Refresh()
	waitFor(t, func() bool { return gen.count() == 1 })

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a request was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(gen.block)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the request finished")
	}
	if p.Refresh() {
		t.Fatal("expected refresh after Close to be ignored")
	}
}

func TestGenerateReportsItsOwnOutcome(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := readyStore(t, clock)
	gen := &fakeGenerator{}
	p := newPipeline(t, store, gen, connectedGate(), clock, 0)

	outcome, issued, err := p.Generate(context.Background())
	if err != nil || !issued {
		t.Fatalf("Generate = %q %v %v", outcome, issued, err)
	}
	if outcome != preview.OutcomeGenerated {
		t.Fatalf("outcome = %q, want generated", outcome)
	}
	if got := store.Snapshot().ImageFilename; got != "preview_1.png" {
		t.Fatalf("image = %q", got)
	}

	gen.block = make(chan struct{})
	if !p.Refresh() {
		t.Fatal("expected refresh to issue")
	}
	waitFor(t, func() bool { return gen.count() == 2 })
	if _, issued, _ := p.Generate(context.Background()); issued {
		t.Fatal("Generate issued while a request was in flight")
	}
	close(gen.block)
}

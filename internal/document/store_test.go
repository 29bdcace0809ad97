package document_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/document"
	"cyclemetry/internal/services"
	"cyclemetry/internal/testsupport"
)

func newStore(t *testing.T) (*document.Store, *clockwork.FakeClock, *testsupport.MemoryState) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	mem := testsupport.NewMemoryState()
	store := document.NewStore(document.Options{
		Clock:         clock,
		GuardWindow:   100 * time.Millisecond,
		InputDebounce: 500 * time.Millisecond,
		AutoRender:    true,
		Persister:     mem,
	})
	t.Cleanup(store.Close)
	return store, clock, mem
}

func template(end int) document.Document {
	return document.Document{
		"scene":  map[string]any{"start": 0, "end": end, "width": 1920, "height": 1080},
		"labels": []any{map[string]any{"text": "speed"}},
	}
}

func bounds(t *testing.T, doc document.Document) (int, int) {
	t.Helper()
	start, end, ok := doc.Bounds()
	if !ok {
		t.Fatalf("document has no bounds: %v", doc)
	}
	return start, end
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

func TestLoadDocumentAdoptsTemplateBoundsOnDefaults(t *testing.T) {
	store, _, mem := newStore(t)

	store.LoadDocument(template(120))

	want := document.Timeline{Start: 0, End: 120, Cursor: 0, Duration: 120}
	if got := store.Timeline(); got != want {
		t.Fatalf("timeline = %+v, want %+v", got, want)
	}
	if v, _ := mem.Get(document.KeyTimelineEnd); v != "120" {
		t.Fatalf("expected timeline_end persisted, got %q", v)
	}
	if _, ok := mem.Get(document.KeyEditorConfig); !ok {
		t.Fatal("expected editor_config persisted")
	}
	if !store.Snapshot().Dirty {
		t.Fatal("expected dirty after load")
	}
}

func TestLoadDocumentKeepsEditedTimeline(t *testing.T) {
	store, _, _ := newStore(t)

	store.SetEnd(50)
	store.LoadDocument(template(120))

	want := document.Timeline{Start: 0, End: 50, Cursor: 0, Duration: document.DefaultDuration}
	if got := store.Timeline(); got != want {
		t.Fatalf("timeline = %+v, want %+v", got, want)
	}
	if start, end := bounds(t, store.Document()); start != 0 || end != 50 {
		t.Fatalf("document bounds = %d..%d, want 0..50", start, end)
	}
}

func TestLoadDocumentKeepsActivityDuration(t *testing.T) {
	store, _, _ := newStore(t)

	if err := store.SetActivity("ride.gpx", 600); err != nil {
		t.Fatalf("SetActivity: %v", err)
	}
	store.LoadDocument(template(120))

	want := document.Timeline{Start: 0, End: 120, Cursor: 0, Duration: 600}
	if got := store.Timeline(); got != want {
		t.Fatalf("timeline = %+v, want %+v", got, want)
	}
}

func TestEditDocumentIgnoredWhileTimelineEchoes(t *testing.T) {
	store, clock, _ := newStore(t)
	store.LoadDocument(template(120))
	clock.Advance(150 * time.Millisecond)

	store.SetEnd(90)
	if _, end := bounds(t, store.Document()); end != 90 {
		t.Fatalf("expected timeline write into document, got end %d", end)
	}

	if store.EditDocument(template(60)) {
		t.Fatal("expected echo edit to be ignored")
	}
	if got := store.Timeline().End; got != 90 {
		t.Fatalf("ignored edit changed timeline end to %d", got)
	}

	clock.Advance(150 * time.Millisecond)
	if !store.EditDocument(template(60)) {
		t.Fatal("expected edit after guard window to apply")
	}
	if got := store.Timeline().End; got != 60 {
		t.Fatalf("timeline end = %d, want 60", got)
	}
}

func TestTimelineWriteSkipsDocumentWhileDocumentEchoes(t *testing.T) {
	store, _, _ := newStore(t)
	store.LoadDocument(template(120))

	store.SetStart(10)

	if got := store.Timeline().Start; got != 10 {
		t.Fatalf("timeline start = %d, want 10", got)
	}
	if start, _ := bounds(t, store.Document()); start != 0 {
		t.Fatalf("document start written during document guard: %d", start)
	}
}

func TestHeldBackWindowReachesDocumentAfterGuard(t *testing.T) {
	store, clock, mem := newStore(t)
	store.LoadDocument(template(120))
	store.SetEnd(50)
	if _, end := bounds(t, store.Document()); end != 120 {
		t.Fatalf("document end written during document guard: %d", end)
	}

	clock.Advance(5 * time.Second)

	if _, end := bounds(t, store.Document()); end != 50 {
		t.Fatalf("document end = %d after guard, want 50", end)
	}
	raw, ok := mem.Get(document.KeyEditorConfig)
	if !ok {
		t.Fatal("document not persisted")
	}
	persisted, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, end := bounds(t, persisted); end != 50 {
		t.Fatalf("persisted document end = %d, want 50", end)
	}
}

func TestCloseWritesHeldBackWindow(t *testing.T) {
	store, _, mem := newStore(t)
	store.LoadDocument(template(120))
	store.SetStart(20)
	store.Close()

	raw, _ := mem.Get(document.KeyEditorConfig)
	persisted, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if start, _ := bounds(t, persisted); start != 20 {
		t.Fatalf("persisted document start = %d, want 20", start)
	}
}

func TestEditDocumentClampsBounds(t *testing.T) {
	store, clock, _ := newStore(t)
	if err := store.SetActivity("ride.gpx", 100); err != nil {
		t.Fatalf("SetActivity: %v", err)
	}
	store.LoadDocument(template(100))
	clock.Advance(150 * time.Millisecond)

	doc := template(500)
	doc.SetBounds(40, 30)
	store.EditDocument(doc)

	got := store.Timeline()
	if !got.Valid() {
		t.Fatalf("timeline violates invariants: %+v", got)
	}
	start, end := bounds(t, store.Document())
	if start != got.Start || end != got.End {
		t.Fatalf("document bounds %d..%d differ from timeline %+v", start, end, got)
	}
}

func TestDemoActivityEditScenario(t *testing.T) {
	store, clock, _ := newStore(t)
	store.LoadDocument(template(120))
	store.LoadDemoActivity()

	want := document.Timeline{Start: 0, End: document.DemoActivityDuration, Cursor: 0, Duration: document.DemoActivityDuration}
	if got := store.Timeline(); got != want {
		t.Fatalf("timeline after demo = %+v, want %+v", got, want)
	}
	if got := store.Snapshot().Activity; got != document.DemoActivity {
		t.Fatalf("activity = %q", got)
	}
	clock.Advance(150 * time.Millisecond)

	doc := store.Document()
	doc.SetBounds(0, 3000)
	if !store.EditDocument(doc) {
		t.Fatal("expected edit to apply")
	}

	want = document.Timeline{Start: 0, End: 3000, Cursor: 0, Duration: document.DemoActivityDuration}
	if got := store.Timeline(); got != want {
		t.Fatalf("timeline = %+v, want %+v", got, want)
	}
	if !store.Snapshot().Dirty {
		t.Fatal("expected dirty after edit")
	}
}

func TestDragCommitsOnEnd(t *testing.T) {
	store, clock, mem := newStore(t)
	store.LoadDocument(template(120))
	clock.Advance(150 * time.Millisecond)
	store.BeginGenerating()
	store.FinishGenerating("preview_1.png")
	saves := mem.Saves(document.KeyTimelineEnd)

	store.Drag(document.HandleEnd, 80)
	store.Drag(document.HandleEnd, 70)

	snap := store.Snapshot()
	if snap.Timeline.End != 70 || !snap.Editing {
		t.Fatalf("expected live drag state, got %+v", snap)
	}
	if snap.Dirty {
		t.Fatal("drag must not mark dirty")
	}
	if mem.Saves(document.KeyTimelineEnd) != saves {
		t.Fatal("drag must not persist")
	}
	if _, end := bounds(t, snap.Document); end != 120 {
		t.Fatalf("drag wrote document end %d", end)
	}

	store.EndDrag()

	snap = store.Snapshot()
	if !snap.Dirty || snap.Editing {
		t.Fatalf("expected committed dirty state, got %+v", snap)
	}
	if _, end := bounds(t, snap.Document); end != 70 {
		t.Fatalf("document end = %d, want 70", end)
	}
	if v, _ := mem.Get(document.KeyTimelineEnd); v != "70" {
		t.Fatalf("persisted end = %q, want 70", v)
	}
}

func TestDragBackToOriginIsNotDirty(t *testing.T) {
	store, clock, _ := newStore(t)
	store.LoadDocument(template(120))
	clock.Advance(150 * time.Millisecond)
	store.BeginGenerating()

	store.Drag(document.HandleCursor, 50)
	store.Drag(document.HandleCursor, 0)
	store.EndDrag()

	if store.Snapshot().Dirty {
		t.Fatal("expected no dirty flag when nothing moved")
	}
}

func TestInputCommitsAfterQuietPeriod(t *testing.T) {
	store, clock, _ := newStore(t)
	store.LoadDocument(template(120))
	clock.Advance(150 * time.Millisecond)
	store.BeginGenerating()

	store.Input(document.HandleEnd, 30)
	if got := store.Timeline().End; got != 30 {
		t.Fatalf("typed value not shown, end = %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for input timer: %v", err)
	}
	clock.Advance(499 * time.Millisecond)
	if !store.Snapshot().Editing {
		t.Fatal("input committed before the quiet period")
	}

	clock.Advance(time.Millisecond)
	waitFor(t, func() bool { return !store.Snapshot().Editing })

	snap := store.Snapshot()
	if !snap.Dirty {
		t.Fatal("expected dirty after input commit")
	}
	if _, end := bounds(t, snap.Document); end != 30 {
		t.Fatalf("document end = %d, want 30", end)
	}
}

func TestInputReplaysPushRules(t *testing.T) {
	store, clock, _ := newStore(t)
	store.LoadDocument(template(120))
	clock.Advance(150 * time.Millisecond)
	store.SetStart(50)

	store.Input(document.HandleEnd, 20)
	store.FlushInput()

	want := document.Timeline{Start: 19, End: 20, Cursor: 20, Duration: 120}
	if got := store.Timeline(); got != want {
		t.Fatalf("timeline = %+v, want %+v", got, want)
	}
}

func TestFailedWriteDoesNotAffectOtherKeys(t *testing.T) {
	store, _, mem := newStore(t)
	mem.FailSave(document.KeyTimelineStart)

	store.SetEnd(40)

	if v, _ := mem.Get(document.KeyTimelineEnd); v != "40" {
		t.Fatalf("timeline_end = %q, want 40", v)
	}
	if _, ok := mem.Get(document.KeyTimelineStart); ok {
		t.Fatal("expected failed key to stay unwritten")
	}
	if got := store.Timeline().End; got != 40 {
		t.Fatalf("in-memory end = %d, want 40", got)
	}
}

func TestRestoreKeysIndependently(t *testing.T) {
	store, _, mem := newStore(t)
	mem.Put(document.KeyEditorConfig, `{"scene":`)
	mem.Put(document.KeyTotalDuration, "600")
	mem.Put(document.KeyTimelineStart, "30")
	mem.Put(document.KeyTimelineEnd, "abc")
	mem.Put(document.KeyActivityFilename, "ride.gpx")
	mem.Put(document.KeyVideoFilename, "video_1.mov")
	mem.FailLoad(document.KeyImageFilename)

	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	snap := store.Snapshot()
	if snap.Document != nil {
		t.Fatalf("corrupt document should keep default, got %v", snap.Document)
	}
	if snap.Activity != "ride.gpx" || snap.VideoFilename != "video_1.mov" || snap.ImageFilename != "" {
		t.Fatalf("unexpected restored fields %+v", snap)
	}
	want := document.Timeline{Start: 30, End: document.DefaultDuration, Cursor: 30, Duration: 600}
	if snap.Timeline != want {
		t.Fatalf("timeline = %+v, want %+v", snap.Timeline, want)
	}
	if snap.Dirty {
		t.Fatal("restore must not mark dirty")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	store, clock, mem := newStore(t)
	if err := store.SetActivity("ride.gpx", 600); err != nil {
		t.Fatalf("SetActivity: %v", err)
	}
	clock.Advance(150 * time.Millisecond)
	store.LoadDocument(template(120))
	clock.Advance(150 * time.Millisecond)
	store.SetCursor(42)
	store.BeginGenerating()
	store.FinishGenerating("preview_3.png")
	store.SetVideoFilename("video_2.mov")

	restored := document.NewStore(document.Options{Clock: clock, Persister: mem})
	t.Cleanup(restored.Close)
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	a, b := store.Snapshot(), restored.Snapshot()
	if a.Timeline != b.Timeline || a.Activity != b.Activity ||
		a.ImageFilename != b.ImageFilename || a.VideoFilename != b.VideoFilename {
		t.Fatalf("restored %+v, want %+v", b, a)
	}
	if start, end := bounds(t, b.Document); start != 0 || end != 120 {
		t.Fatalf("restored bounds %d..%d", start, end)
	}
}

func TestResetClearsEverything(t *testing.T) {
	store, _, mem := newStore(t)
	store.LoadDocument(template(120))
	store.SetError("boom")

	if err := store.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if keys := mem.Keys(); len(keys) != 0 {
		t.Fatalf("expected persisted state cleared, got %v", keys)
	}
	snap := store.Snapshot()
	if snap.Document != nil || snap.ErrorMessage != "" || snap.Timeline != document.DefaultTimeline(0) {
		t.Fatalf("expected defaults, got %+v", snap)
	}
}

func TestSetActivityValidates(t *testing.T) {
	store, _, _ := newStore(t)
	if err := store.SetActivity("", 10); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := store.SetActivity("ride.gpx", 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListenersRunInOrderAndMayMutate(t *testing.T) {
	store, _, _ := newStore(t)

	var mu sync.Mutex
	var messages []string
	store.Subscribe(func(ev document.Event) {
		if ev.Kind != document.EventPreview {
			return
		}
		mu.Lock()
		messages = append(messages, ev.Snapshot.ErrorMessage)
		mu.Unlock()
		if ev.Snapshot.ErrorMessage != "" {
			store.DismissError()
		}
	})

	store.SetError("boom")

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 2 || messages[0] != "boom" || messages[1] != "" {
		t.Fatalf("unexpected event sequence %q", messages)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store, _, _ := newStore(t)
	var calls int
	unsubscribe := store.Subscribe(func(document.Event) { calls++ })

	store.MarkDirty()
	unsubscribe()
	store.MarkDirty()

	if calls != 1 {
		t.Fatalf("expected 1 event, got %d", calls)
	}
}

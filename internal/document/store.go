package document

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"cyclemetry/internal/config"
	"cyclemetry/internal/debounce"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/services"
)

// Persisted keys. Each is written and restored independently.
const (
	KeyEditorConfig     = "editor_config"
	KeyImageFilename    = "image_filename"
	KeyVideoFilename    = "video_filename"
	KeyActivityFilename = "activity_filename"
	KeyTotalDuration    = "total_duration"
	KeyTimelineStart    = "timeline_start"
	KeyTimelineEnd      = "timeline_end"
	KeyTimelineCursor   = "timeline_cursor"
)

// Demo activity bundled with the backend.
const (
	DemoActivity         = "demo.gpxinit"
	DemoActivityDuration = 7946
)

// Persister is the durable key/value cache behind the store.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context) error
}

// EventKind names what changed.
type EventKind string

const (
	EventDocument EventKind = "document"
	EventTimeline EventKind = "timeline"
	EventDirty    EventKind = "dirty"
	EventPreview  EventKind = "preview"
)

// Event carries a copy of the state after a mutation was fully applied.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Document      Document
	Timeline      Timeline
	Activity      string
	Dirty         bool
	AutoRender    bool
	Editing       bool
	ImageFilename string
	Generating    bool
	ErrorMessage  string
	VideoFilename string
}

// HasActivity reports whether an activity is selected.
func (s Snapshot) HasActivity() bool { return s.Activity != "" }

// Options configures a Store.
type Options struct {
	Clock           clockwork.Clock
	GuardWindow     time.Duration
	InputDebounce   time.Duration
	DefaultDuration int
	AutoRender      bool
	Persister       Persister
	Logger          *slog.Logger
}

// OptionsFromConfig maps the timeline and preview sections onto Options.
func OptionsFromConfig(cfg *config.Config, clock clockwork.Clock, persister Persister, logger *slog.Logger) Options {
	return Options{
		Clock:           clock,
		GuardWindow:     cfg.Timeline.GuardWindow.Std(),
		InputDebounce:   cfg.Timeline.InputDebounce.Std(),
		DefaultDuration: cfg.Timeline.DefaultDuration,
		AutoRender:      cfg.Preview.AutoRender,
		Persister:       persister,
		Logger:          logger,
	}
}

type pendingKind int

const (
	pendingDrag pendingKind = iota + 1
	pendingInput
)

type handleValue struct {
	handle Handle
	value  int
}

// pending is an uncommitted drag or numeric input.
type pending struct {
	kind   pendingKind
	origin Timeline
	inputs []handleValue
}

type listener struct {
	id int
	fn func(Event)
}

// Store owns the overlay document and the timeline. Every setter applies its
// guard, clamp and persistence rules under one lock; listeners run afterwards
// in mutation order.
type Store struct {
	clock           clockwork.Clock
	guardWindow     time.Duration
	defaultDuration int
	defaultAuto     bool
	persister       Persister
	logger          *slog.Logger
	input           *debounce.Debouncer

	mu            sync.Mutex
	doc           Document
	timeline      Timeline
	activity      string
	dirty         bool
	autoRender    bool
	imageFilename string
	videoFilename string
	errorMessage  string
	generating    bool
	fromDocument  time.Time
	fromTimeline  time.Time
	boundsStale   bool // a committed window was kept out of the document by the guard
	pending       *pending

	listeners []listener
	nextID    int
	queue     []Event
	draining  bool
}

// NewStore returns a store holding defaults. Call Restore to load persisted state.
func NewStore(opts Options) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	guard := opts.GuardWindow
	if guard <= 0 {
		guard = 100 * time.Millisecond
	}
	inputDelay := opts.InputDebounce
	if inputDelay <= 0 {
		inputDelay = 500 * time.Millisecond
	}
	duration := opts.DefaultDuration
	if duration < 1 {
		duration = DefaultDuration
	}
	s := &Store{
		clock:           clock,
		guardWindow:     guard,
		defaultDuration: duration,
		defaultAuto:     opts.AutoRender,
		persister:       opts.Persister,
		logger:          logging.NewComponentLogger(logger, "document"),
		timeline:        DefaultTimeline(duration),
		autoRender:      opts.AutoRender,
	}
	s.input = debounce.New(clock, inputDelay, s.commitInput)
	return s
}

// Close stops the numeric input debouncer. Uncommitted input is dropped; a
// committed window still held back by the document guard is written now.
func (s *Store) Close() {
	s.input.Stop()
	s.syncStaleBounds(true)
}

// Subscribe registers fn for every event and returns an unsubscribe func.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.syncStaleBounds(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Timeline returns the current timeline.
func (s *Store) Timeline() Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

// Document returns a copy of the current document, nil before one is loaded.
func (s *Store) Document() Document {
	s.syncStaleBounds(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// syncStaleBounds writes the timeline window into the document once the
// guard that held it back has expired, or immediately when force is set.
func (s *Store) syncStaleBounds(force bool) {
	ready := func() bool {
		return s.boundsStale && s.pending == nil && (force || !s.guardActive(s.fromDocument))
	}
	s.mu.Lock()
	due := ready()
	s.mu.Unlock()
	if !due {
		return
	}
	s.update(func() []EventKind {
		if !ready() {
			return nil
		}
		if s.writeBoundsLocked() {
			return []EventKind{EventDocument}
		}
		return nil
	})
}

func (s *Store) writeBoundsLocked() bool {
	s.boundsStale = false
	if !s.doc.SetBounds(s.timeline.Start, s.timeline.End) {
		return false
	}
	s.fromTimeline = s.arm()
	s.persistDocumentLocked()
	return true
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Document:      s.doc.Clone(),
		Timeline:      s.timeline,
		Activity:      s.activity,
		Dirty:         s.dirty,
		AutoRender:    s.autoRender,
		Editing:       s.pending != nil,
		ImageFilename: s.imageFilename,
		Generating:    s.generating,
		ErrorMessage:  s.errorMessage,
		VideoFilename: s.videoFilename,
	}
}

// update runs fn under the lock, queues one event per returned kind and
// delivers queued events once the lock is released.
func (s *Store) update(fn func() []EventKind) {
	s.mu.Lock()
	kinds := fn()
	if len(kinds) > 0 {
		snap := s.snapshotLocked()
		for _, k := range kinds {
			s.queue = append(s.queue, Event{Kind: k, Snapshot: snap})
		}
	}
	s.mu.Unlock()
	s.drain()
}

// drain delivers queued events. A listener that mutates the store appends to
// the queue and the active drainer delivers it next.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		fns := make([]func(Event), len(s.listeners))
		for i, l := range s.listeners {
			fns[i] = l.fn
		}
		s.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Store) guardActive(until time.Time) bool {
	return s.clock.Now().Before(until)
}

func (s *Store) arm() time.Time {
	return s.clock.Now().Add(s.guardWindow)
}

// LoadDocument replaces the document wholesale, as when a template is
// selected. While the timeline still spans its whole duration the document's
// bounds become the timeline (and the duration, when no activity is loaded).
// Otherwise the timeline's bounds are written into the document.
func (s *Store) LoadDocument(doc Document) {
	doc = doc.Clone()
	s.update(func() []EventKind {
		s.discardPendingLocked()
		s.fromDocument = s.arm()
		if start, end, ok := doc.Bounds(); ok {
			if s.timeline.IsDefault() {
				t := s.timeline
				if s.activity == "" {
					t.Duration = end
				}
				t.Start, t.End, t.Cursor = start, end, start
				s.timeline = t.Commit()
			} else {
				s.logger.Debug("keeping edited timeline over loaded document",
					logging.Int("start", s.timeline.Start),
					logging.Int("end", s.timeline.End))
			}
			doc.SetBounds(s.timeline.Start, s.timeline.End)
		}
		s.doc = doc
		s.boundsStale = false
		s.dirty = true
		s.persistDocumentLocked()
		s.persistTimelineLocked()
		return []EventKind{EventDocument, EventTimeline, EventDirty}
	})
}

// EditDocument applies an edit from the structured editor. Edits that arrive
// while a timeline write is still echoing back are ignored and false is
// returned.
func (s *Store) EditDocument(doc Document) bool {
	doc = doc.Clone()
	applied := false
	s.update(func() []EventKind {
		if s.guardActive(s.fromTimeline) {
			s.logger.Debug("ignoring document echo of timeline write")
			return nil
		}
		applied = true
		s.discardPendingLocked()
		s.fromDocument = s.arm()
		kinds := []EventKind{EventDocument, EventDirty}
		if start, end, ok := doc.Bounds(); ok {
			t := s.timeline
			t.Start, t.End = start, end
			s.timeline = t.Commit()
			doc.SetBounds(s.timeline.Start, s.timeline.End)
			s.persistTimelineLocked()
			kinds = append(kinds, EventTimeline)
		}
		s.doc = doc
		s.boundsStale = false
		s.dirty = true
		s.persistDocumentLocked()
		return kinds
	})
	return applied
}

// SetStart commits a new window start.
func (s *Store) SetStart(second int) { s.set(HandleStart, second) }

// SetEnd commits a new window end.
func (s *Store) SetEnd(second int) { s.set(HandleEnd, second) }

// SetCursor commits a new preview cursor.
func (s *Store) SetCursor(second int) { s.set(HandleCursor, second) }

// Set commits value to handle h.
func (s *Store) Set(h Handle, value int) { s.set(h, value) }

func (s *Store) set(h Handle, value int) {
	s.update(func() []EventKind {
		kinds := s.flushPendingLocked()
		before := s.timeline
		return append(kinds, s.commitLocked(before, before.Set(h, value))...)
	})
}

// commitLocked installs next, writes bounds into the document unless a
// document write is still echoing, and marks dirty when anything moved.
func (s *Store) commitLocked(before, next Timeline) []EventKind {
	next = next.Commit()
	s.timeline = next
	kinds := []EventKind{EventTimeline}
	if before.Start != next.Start || before.End != next.End || s.boundsStale {
		switch {
		case s.guardActive(s.fromDocument):
			s.boundsStale = s.doc != nil
		case s.writeBoundsLocked():
			kinds = append(kinds, EventDocument)
		}
	}
	s.persistTimelineLocked()
	if next != before {
		s.dirty = true
		kinds = append(kinds, EventDirty)
	}
	return kinds
}

// Drag moves a handle for display only. Nothing is persisted or marked dirty
// until EndDrag.
func (s *Store) Drag(h Handle, value int) {
	s.update(func() []EventKind {
		var kinds []EventKind
		if s.pending != nil && s.pending.kind != pendingDrag {
			kinds = s.flushPendingLocked()
		}
		if s.pending == nil {
			s.pending = &pending{kind: pendingDrag, origin: s.timeline}
		}
		s.timeline = s.timeline.Drag(h, value)
		return append(kinds, EventTimeline)
	})
}

// EndDrag commits the dragged timeline.
func (s *Store) EndDrag() {
	s.update(func() []EventKind {
		if s.pending == nil || s.pending.kind != pendingDrag {
			return nil
		}
		return s.flushPendingLocked()
	})
}

// Input shows a typed value immediately and commits it once typing pauses.
func (s *Store) Input(h Handle, value int) {
	s.update(func() []EventKind {
		var kinds []EventKind
		if s.pending != nil && s.pending.kind != pendingInput {
			kinds = s.flushPendingLocked()
		}
		if s.pending == nil {
			s.pending = &pending{kind: pendingInput, origin: s.timeline}
		}
		s.pending.inputs = append(s.pending.inputs, handleValue{handle: h, value: value})
		t := s.timeline
		switch h {
		case HandleStart:
			t.Start = clamp(value, 0, t.Duration)
		case HandleEnd:
			t.End = clamp(value, 0, t.Duration)
		case HandleCursor:
			t.Cursor = clamp(value, 0, t.Duration)
		}
		s.timeline = t
		s.input.Trigger()
		return append(kinds, EventTimeline)
	})
}

// FlushInput commits pending numeric input without waiting for the debounce.
func (s *Store) FlushInput() {
	s.commitInput()
}

func (s *Store) commitInput() {
	s.update(func() []EventKind {
		if s.pending == nil || s.pending.kind != pendingInput {
			return nil
		}
		return s.flushPendingLocked()
	})
}

func (s *Store) flushPendingLocked() []EventKind {
	p := s.pending
	if p == nil {
		return nil
	}
	s.pending = nil
	next := s.timeline
	if p.kind == pendingInput {
		s.input.Cancel()
		next = p.origin
		for _, in := range p.inputs {
			next = next.Set(in.handle, in.value)
		}
	}
	return s.commitLocked(p.origin, next)
}

func (s *Store) discardPendingLocked() {
	if s.pending == nil {
		return
	}
	if s.pending.kind == pendingInput {
		s.input.Cancel()
	}
	s.timeline = s.pending.origin
	s.pending = nil
}

// SetActivity selects an activity of the given length and resets the
// timeline to span it.
func (s *Store) SetActivity(filename string, duration int) error {
	if strings.TrimSpace(filename) == "" {
		return services.Wrap(services.ErrValidation, "document", "set activity", "activity filename is empty", nil)
	}
	if duration < 1 {
		return services.Wrap(services.ErrValidation, "document", "set activity",
			"activity duration must be at least one second, got "+strconv.Itoa(duration), nil)
	}
	s.update(func() []EventKind {
		s.discardPendingLocked()
		s.activity = filename
		s.timeline = DefaultTimeline(duration)
		kinds := []EventKind{EventTimeline, EventDirty}
		if s.doc.SetBounds(0, duration) {
			s.fromTimeline = s.arm()
			s.persistDocumentLocked()
			kinds = append(kinds, EventDocument)
		}
		s.dirty = true
		s.saveLocked(KeyActivityFilename, []byte(filename))
		s.persistTimelineLocked()
		return kinds
	})
	return nil
}

// LoadDemoActivity selects the demo activity bundled with the backend.
func (s *Store) LoadDemoActivity() {
	_ = s.SetActivity(DemoActivity, DemoActivityDuration)
}

// SetAutoRender toggles automatic previews.
func (s *Store) SetAutoRender(on bool) {
	s.update(func() []EventKind {
		s.autoRender = on
		return []EventKind{EventDirty}
	})
}

// MarkDirty flags the state as having unrendered changes.
func (s *Store) MarkDirty() {
	s.update(func() []EventKind {
		s.dirty = true
		return []EventKind{EventDirty}
	})
}

// BeginGenerating marks a preview as in flight, clears the dirty flag and
// returns the state the preview is generated from.
func (s *Store) BeginGenerating() Snapshot {
	var snap Snapshot
	s.update(func() []EventKind {
		s.generating = true
		s.dirty = false
		snap = s.snapshotLocked()
		return []EventKind{EventPreview, EventDirty}
	})
	return snap
}

// FinishGenerating records a generated frame and clears the error surface.
func (s *Store) FinishGenerating(filename string) {
	s.update(func() []EventKind {
		s.generating = false
		s.imageFilename = filename
		s.errorMessage = ""
		s.saveLocked(KeyImageFilename, []byte(filename))
		return []EventKind{EventPreview}
	})
}

// FailGenerating ends an in-flight preview. An empty message leaves the
// error surface untouched.
func (s *Store) FailGenerating(message string) {
	s.update(func() []EventKind {
		s.generating = false
		if message != "" {
			s.errorMessage = message
		}
		return []EventKind{EventPreview}
	})
}

// SetError shows message on the error surface.
func (s *Store) SetError(message string) {
	s.update(func() []EventKind {
		s.errorMessage = message
		return []EventKind{EventPreview}
	})
}

// DismissError clears the error surface.
func (s *Store) DismissError() {
	s.update(func() []EventKind {
		if s.errorMessage == "" {
			return nil
		}
		s.errorMessage = ""
		return []EventKind{EventPreview}
	})
}

// SetVideoFilename records the most recent rendered video.
func (s *Store) SetVideoFilename(filename string) {
	s.update(func() []EventKind {
		s.videoFilename = filename
		s.saveLocked(KeyVideoFilename, []byte(filename))
		return []EventKind{EventPreview}
	})
}

// Restore loads every persisted key independently. Missing, unreadable or
// corrupt keys keep their defaults.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.update(func() []EventKind {
		s.discardPendingLocked()
		if raw, ok := s.loadLocked(ctx, KeyEditorConfig); ok {
			if doc, err := Parse(raw); err != nil {
				s.warnCorrupt(KeyEditorConfig, err)
			} else {
				s.doc = doc
			}
		}
		if raw, ok := s.loadLocked(ctx, KeyImageFilename); ok {
			s.imageFilename = string(raw)
		}
		if raw, ok := s.loadLocked(ctx, KeyVideoFilename); ok {
			s.videoFilename = string(raw)
		}
		if raw, ok := s.loadLocked(ctx, KeyActivityFilename); ok {
			s.activity = string(raw)
		}
		t := s.timeline
		s.loadIntLocked(ctx, KeyTotalDuration, &t.Duration)
		s.loadIntLocked(ctx, KeyTimelineStart, &t.Start)
		s.loadIntLocked(ctx, KeyTimelineEnd, &t.End)
		s.loadIntLocked(ctx, KeyTimelineCursor, &t.Cursor)
		if t.Duration < 1 {
			t.Duration = s.defaultDuration
		}
		s.timeline = t.Commit()
		return []EventKind{EventDocument, EventTimeline, EventPreview}
	})
	return ctx.Err()
}

// Reset clears persisted state and returns every field to its default.
func (s *Store) Reset(ctx context.Context) error {
	var clearErr error
	s.update(func() []EventKind {
		s.discardPendingLocked()
		if s.persister != nil {
			if err := s.persister.Clear(ctx); err != nil {
				clearErr = services.Wrap(services.ErrConfiguration, "document", "reset", "clear persisted state", err)
			}
		}
		s.doc = nil
		s.timeline = DefaultTimeline(s.defaultDuration)
		s.activity = ""
		s.dirty = false
		s.autoRender = s.defaultAuto
		s.imageFilename = ""
		s.videoFilename = ""
		s.errorMessage = ""
		s.generating = false
		s.fromDocument = time.Time{}
		s.fromTimeline = time.Time{}
		s.boundsStale = false
		return []EventKind{EventDocument, EventTimeline, EventDirty, EventPreview}
	})
	return clearErr
}

func (s *Store) persistDocumentLocked() {
	if s.doc == nil {
		return
	}
	data, err := s.doc.Marshal()
	if err != nil {
		logging.WarnWithContext(s.logger, "document not persisted", "state_persist_failed",
			logging.String("key", KeyEditorConfig),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the document will not survive a restart"),
			logging.String(logging.FieldErrorHint, "Check the document for values JSON cannot encode"))
		return
	}
	s.saveLocked(KeyEditorConfig, data)
}

func (s *Store) persistTimelineLocked() {
	s.saveLocked(KeyTotalDuration, []byte(strconv.Itoa(s.timeline.Duration)))
	s.saveLocked(KeyTimelineStart, []byte(strconv.Itoa(s.timeline.Start)))
	s.saveLocked(KeyTimelineEnd, []byte(strconv.Itoa(s.timeline.End)))
	s.saveLocked(KeyTimelineCursor, []byte(strconv.Itoa(s.timeline.Cursor)))
}

func (s *Store) saveLocked(key string, value []byte) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(context.Background(), key, value); err != nil {
		logging.WarnWithContext(s.logger, "state key not persisted", "state_persist_failed",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "this value will be lost on restart"),
			logging.String(logging.FieldErrorHint, "Check the state directory is writable"))
	}
}

func (s *Store) loadLocked(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := s.persister.Load(ctx, key)
	if err != nil {
		logging.WarnWithContext(s.logger, "state key not restored", "state_restore_failed",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the default value is used"),
			logging.String(logging.FieldErrorHint, "Run cyclemetry reset if this persists"))
		return nil, false
	}
	return raw, ok
}

func (s *Store) loadIntLocked(ctx context.Context, key string, dst *int) {
	raw, ok := s.loadLocked(ctx, key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		s.warnCorrupt(key, err)
		return
	}
	*dst = n
}

func (s *Store) warnCorrupt(key string, err error) {
	logging.WarnWithContext(s.logger, "corrupt state key ignored", "state_corrupt",
		logging.String("key", key),
		logging.Error(err),
		logging.String(logging.FieldImpact, "the default value is used"),
		logging.String(logging.FieldErrorHint, "Run cyclemetry reset to clear saved editor state"))
}

package document

import "fmt"

// DefaultDuration is the timeline length used before any activity is loaded.
const DefaultDuration = 73

// Handle names one of the three timeline markers.
type Handle string

const (
	HandleStart  Handle = "start"
	HandleEnd    Handle = "end"
	HandleCursor Handle = "cursor"
)

// ParseHandle validates a handle name.
func ParseHandle(s string) (Handle, error) {
	switch h := Handle(s); h {
	case HandleStart, HandleEnd, HandleCursor:
		return h, nil
	default:
		return "", fmt.Errorf("unknown timeline handle %q (want start, end or cursor)", s)
	}
}

// Timeline is the editable time window over the activity, in whole seconds.
// At rest 0 <= Start < End <= Duration and Start <= Cursor <= End.
type Timeline struct {
	Start    int `json:"start"`
	End      int `json:"end"`
	Cursor   int `json:"cursor"`
	Duration int `json:"duration"`
}

// DefaultTimeline spans the whole duration with the cursor at zero.
func DefaultTimeline(duration int) Timeline {
	if duration < 1 {
		duration = DefaultDuration
	}
	return Timeline{Start: 0, End: duration, Cursor: 0, Duration: duration}
}

// IsDefault reports whether the window still covers the whole duration.
func (t Timeline) IsDefault() bool {
	return t.Start == 0 && t.End == t.Duration
}

// Get returns the value of one handle.
func (t Timeline) Get(h Handle) int {
	switch h {
	case HandleStart:
		return t.Start
	case HandleEnd:
		return t.End
	default:
		return t.Cursor
	}
}

// Set commits value to handle h, pushing the other markers out of the way,
// then re-clamps all three fields.
func (t Timeline) Set(h Handle, value int) Timeline {
	value = clamp(value, 0, t.Duration)
	switch h {
	case HandleStart:
		if value >= t.End {
			t.End = min(value+1, t.Duration)
		}
		if t.Cursor < value {
			t.Cursor = value
		}
		t.Start = value
	case HandleEnd:
		if value <= t.Start {
			t.Start = max(value-1, 0)
		}
		if t.Cursor > value {
			t.Cursor = value
		}
		t.End = value
	case HandleCursor:
		t.Cursor = value
	}
	return t.Commit()
}

// Drag moves one handle within its neighbours without the push rules used on
// commit: start stays in [0, End], end in [Start, Duration], cursor in
// [Start, End].
func (t Timeline) Drag(h Handle, value int) Timeline {
	switch h {
	case HandleStart:
		t.Start = clamp(value, 0, t.End)
		t.Cursor = clamp(t.Cursor, t.Start, t.End)
	case HandleEnd:
		t.End = clamp(value, t.Start, t.Duration)
		t.Cursor = clamp(t.Cursor, t.Start, t.End)
	case HandleCursor:
		t.Cursor = clamp(value, t.Start, t.End)
	}
	return t
}

// Commit re-clamps every field so the at-rest invariants hold.
func (t Timeline) Commit() Timeline {
	if t.Duration < 1 {
		t.Duration = 1
	}
	t.Start = clamp(t.Start, 0, t.Duration)
	t.End = clamp(t.End, 0, t.Duration)
	if t.Start >= t.End {
		t.End = min(t.Start+1, t.Duration)
	}
	if t.End <= t.Start {
		t.Start = max(t.End-1, 0)
	}
	t.Cursor = clamp(t.Cursor, t.Start, t.End)
	return t
}

// Valid reports whether the at-rest invariants hold.
func (t Timeline) Valid() bool {
	return t.Start >= 0 && t.Start < t.End && t.End <= t.Duration &&
		t.Cursor >= t.Start && t.Cursor <= t.End
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(v, hi))
}

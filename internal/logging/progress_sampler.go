package logging

import (
	"math"
	"strings"
)

// ProgressSampler thins render progress logging to one line per step of
// percent, plus one line whenever the phase changes. It is not safe for
// concurrent use; the render controller calls it under its own lock.
type ProgressSampler struct {
	step  float64
	phase string
	next  float64
}

// NewProgressSampler returns a sampler that logs every step percent. A
// non-positive step means 5.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step}
}

// ShouldLog reports whether this progress sample deserves a log line. A
// negative percent means the backend has not reported one yet.
func (s *ProgressSampler) ShouldLog(percent float64, phase string) bool {
	if s == nil {
		return true
	}
	changed := false
	if phase = strings.TrimSpace(phase); phase != "" && phase != s.phase {
		s.phase = phase
		s.next = 0
		changed = true
	}
	if percent < 0 || percent < s.next {
		return changed
	}
	s.next = (math.Floor(math.Min(percent, 100)/s.step) + 1) * s.step
	return true
}

// Reset forgets the last phase and threshold, for a new job.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.phase = ""
	s.next = 0
}

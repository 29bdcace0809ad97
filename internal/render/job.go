package render

import (
	"fmt"
	"math"
	"time"

	"cyclemetry/internal/services"
)

// Status is the lifecycle state of a render job.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether the job still occupies the controller.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusCancelling
}

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// Rejections returned by Start. Each wraps services.ErrPrecondition.
var (
	ErrJobActive          = services.Wrap(services.ErrPrecondition, "render", "start", "a render is already in progress", nil)
	ErrBackendUnavailable = services.Wrap(services.ErrPrecondition, "render", "start", "backend is not connected", nil)
	ErrNoDocument         = services.Wrap(services.ErrPrecondition, "render", "start", "no overlay config loaded", nil)
	ErrNoActivity         = services.Wrap(services.ErrPrecondition, "render", "start", "no GPX file selected", nil)
	ErrNoBounds           = services.Wrap(services.ErrPrecondition, "render", "start", "config has no scene start and end", nil)
	ErrInvalidBounds      = services.Wrap(services.ErrPrecondition, "render", "start", "scene end must be after scene start", nil)
	ErrNoActiveJob        = services.Wrap(services.ErrPrecondition, "render", "cancel", "no render is running", nil)
)

// Job is a snapshot of the current or most recent render.
type Job struct {
	ID                        string
	Status                    Status
	Current                   float64
	Total                     float64
	Percent                   int
	Finalizing                bool
	Message                   string
	EstimatedSecondsRemaining *int
	Filename                  string
	Err                       error
	StartedAt                 time.Time
	FinishedAt                time.Time
}

// Percent computes floor(current*100/total) capped at 100. Unknown totals
// report zero.
func Percent(current, total float64) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	p := int(math.Floor(current * 100 / total))
	return min(p, 100)
}

// FormatRemaining renders an estimate as m:ss, or --:-- when unknown.
func FormatRemaining(seconds *int) string {
	if seconds == nil || *seconds < 0 {
		return "--:--"
	}
	return fmt.Sprintf("%d:%02d", *seconds/60, *seconds%60)
}

// Remaining formats the job's time estimate.
func (j Job) Remaining() string {
	return FormatRemaining(j.EstimatedSecondsRemaining)
}

func (j Job) clone() Job {
	if j.EstimatedSecondsRemaining != nil {
		v := *j.EstimatedSecondsRemaining
		j.EstimatedSecondsRemaining = &v
	}
	return j
}

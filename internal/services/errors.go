package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks failures to reach the backend or to read its reply.
	ErrTransport = errors.New("transport error")
	// ErrBackend marks replies in which the backend itself reported a failure.
	ErrBackend = errors.New("backend error")
	// ErrBusy marks the backend's "already working on it" reply. It is not a failure.
	ErrBusy = errors.New("backend busy")
	// ErrPrecondition marks operations rejected before any network call.
	ErrPrecondition  = errors.New("precondition failed")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Category reduces an error to the label used for metrics and log fields.
func Category(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrBackend):
		return "backend"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrValidation):
		return "configuration"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"cyclemetry/internal/services"
)

const (
	// CodeBusy is the backend's error_code for "already generating a frame".
	CodeBusy        = "BUSY"
	maxBodyFragment = 200
)

// Error is the normalized shape of every failed backend call.
type Error struct {
	Op      Operation
	Channel string
	// Status is the HTTP status of the reply, zero when no reply arrived.
	Status int
	// Code is the backend's error_code, when present.
	Code    string
	Message string
	// Cancelled is set when the backend reports the work was cancelled.
	Cancelled bool
	// Err is the underlying cause, if any.
	Err error

	kind error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		if e.Channel != "" {
			b.WriteString(" via ")
			b.WriteString(e.Channel)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	return b.String()
}

// Unwrap exposes the taxonomy sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.kind != nil {
		out = append(out, e.kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Busy reports the backend's benign "already in progress" reply.
func (e *Error) Busy() bool {
	return e.Status == http.StatusTooManyRequests || strings.EqualFold(e.Code, CodeBusy)
}

// Kind returns the taxonomy sentinel wrapped by e.
func (e *Error) Kind() error {
	if e.kind == nil {
		return services.ErrTransport
	}
	return e.kind
}

// IsBusy reports whether err is a normalized busy reply.
func IsBusy(err error) bool {
	return errors.Is(err, services.ErrBusy)
}

// Normalize coerces strings, errors, *Error values and arbitrary values into *Error.
// It returns nil for a nil input.
func Normalize(op Operation, channel string, v any) error {
	switch value := v.(type) {
	case nil:
		return nil
	case *Error:
		if value == nil {
			return nil
		}
		fill(value, op, channel)
		return value
	case error:
		var existing *Error
		if errors.As(value, &existing) {
			fill(existing, op, channel)
			return existing
		}
		return &Error{Op: op, Channel: channel, Message: value.Error(), Err: value, kind: services.ErrTransport}
	case string:
		msg := strings.TrimSpace(value)
		if msg == "" {
			msg = "unknown error"
		}
		return &Error{Op: op, Channel: channel, Message: msg, kind: services.ErrTransport}
	case fmt.Stringer:
		return &Error{Op: op, Channel: channel, Message: value.String(), kind: services.ErrTransport}
	default:
		return &Error{Op: op, Channel: channel, Message: fmt.Sprintf("%v", value), kind: services.ErrTransport}
	}
}

func fill(e *Error, op Operation, channel string) {
	if e.Op == "" {
		e.Op = op
	}
	if e.Channel == "" {
		e.Channel = channel
	}
	if e.kind == nil {
		e.kind = services.ErrTransport
	}
}

// FromResponse builds the error for a non-2xx reply. The message comes from the
// JSON error field, then the raw body, then the status code.
func FromResponse(op Operation, resp *Response) *Error {
	e := &Error{Op: op, Channel: resp.Channel, Status: resp.Status, kind: services.ErrBackend}
	body := resp.Body
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if msg := parsed.Get("error"); msg.Exists() && strings.TrimSpace(msg.String()) != "" {
			e.Message = msg.String()
		}
		e.Code = parsed.Get("error_code").String()
		e.Cancelled = parsed.Get("cancelled").Bool()
	}
	if e.Message == "" {
		e.Message = truncate(strings.TrimSpace(string(body)), maxBodyFragment)
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("HTTP error! status: %d", resp.Status)
	}
	if e.Busy() {
		e.kind = services.ErrBusy
	}
	return e
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

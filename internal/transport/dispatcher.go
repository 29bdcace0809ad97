package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"cyclemetry/internal/config"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/metrics"
	"cyclemetry/internal/services"
)

// Options configures a Dispatcher.
type Options struct {
	// HTTP is the loopback channel. Required.
	HTTP Channel
	// IPC is the bridge channel. Nil means "not inside the desktop shell".
	IPC ReadyChannel
	// ImageBaseURL roots HTTP image URLs returned by ResolveImage.
	ImageBaseURL string
	// Timeout bounds ordinary operations. Zero disables it.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher routes each backend call to exactly one channel.
type Dispatcher struct {
	http         Channel
	ipc          ReadyChannel
	imageBaseURL string
	timeout      time.Duration
	logger       *slog.Logger
	images       singleflight.Group
}

// NewDispatcher validates opts and builds a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.HTTP == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transport", "new dispatcher", "http channel is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.ImageBaseURL == "" {
		if hc, ok := opts.HTTP.(*HTTPChannel); ok {
			opts.ImageBaseURL = hc.BaseURL()
		}
	}
	return &Dispatcher{
		http:         opts.HTTP,
		ipc:          opts.IPC,
		imageBaseURL: strings.TrimRight(opts.ImageBaseURL, "/"),
		timeout:      opts.Timeout,
		logger:       logger,
	}, nil
}

// NewFromConfig builds the HTTP channel, and the bridge channel when a bridge
// socket is configured.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Dispatcher, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transport", "new dispatcher", "config is required", nil)
	}
	opts := Options{
		HTTP:    NewHTTPChannel(cfg.Backend.HTTPURL, nil),
		Timeout: cfg.Backend.RequestTimeout.Std(),
		Logger:  logger,
	}
	if socket := strings.TrimSpace(cfg.Backend.BridgeSocket); socket != "" {
		opts.IPC = NewIPCChannel(socket)
	}
	return NewDispatcher(opts)
}

// HasIPC reports whether a bridge channel is configured.
func (d *Dispatcher) HasIPC() bool { return d.ipc != nil }

// IPCReady reports whether calls would currently go over the bridge.
func (d *Dispatcher) IPCReady(ctx context.Context) bool {
	if d.ipc == nil {
		return false
	}
	ready, err := d.ipc.Ready(ctx)
	if err != nil {
		d.logger.Debug("bridge readiness check failed", logging.Error(err))
		return false
	}
	return ready
}

func (d *Dispatcher) selectChannel(ctx context.Context) Channel {
	if d.IPCReady(ctx) {
		return d.ipc
	}
	return d.http
}

// Call performs op on the selected channel. A ready bridge carries the call
// alone; its failures are returned without retrying over HTTP.
func (d *Dispatcher) Call(ctx context.Context, op Operation, req Request) (*Response, error) {
	r, ok := routes[op]
	if !ok {
		return nil, &Error{Op: op, Message: "unknown operation", kind: services.ErrValidation}
	}
	ctx = ensureRequestID(ctx)
	if !r.untimed && d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.invoke(ctx, d.selectChannel(ctx), op, req)
}

// CallJSON performs op and decodes a successful reply into out. A malformed
// body is a transport error.
func (d *Dispatcher) CallJSON(ctx context.Context, op Operation, req Request, out any) error {
	resp, err := d.Call(ctx, op, req)
	if err != nil {
		return err
	}
	return decodeJSON(op, resp, out)
}

func decodeJSON(op Operation, resp *Response, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &Error{
			Op:      op,
			Channel: resp.Channel,
			Status:  resp.Status,
			Message: "malformed response body",
			Err:     err,
			kind:    services.ErrTransport,
		}
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, ch Channel, op Operation, req Request) (*Response, error) {
	name := ch.Name()
	logger := logging.WithContext(ctx, d.logger).With(
		logging.String(logging.FieldChannel, name),
		logging.String(logging.FieldOperation, string(op)),
	)
	start := time.Now()
	resp, err := ch.Call(ctx, op, req)
	elapsed := time.Since(start)
	if err != nil {
		err = Normalize(op, name, err)
	} else if !resp.OK() {
		err = FromResponse(op, resp)
	}

	outcome := services.Category(err)
	metrics.TransportCallsTotal.WithLabelValues(name, string(op), outcome).Inc()
	metrics.TransportCallDuration.WithLabelValues(name, string(op)).Observe(elapsed.Seconds())

	if err != nil {
		logger.Debug("backend call failed",
			logging.String("outcome", outcome),
			logging.Duration("elapsed", elapsed),
			logging.Error(err))
		return resp, err
	}
	logger.Debug("backend call",
		logging.Int("status", resp.Status),
		logging.Duration("elapsed", elapsed))
	return resp, nil
}

func ensureRequestID(ctx context.Context) context.Context {
	if _, ok := services.RequestIDFromContext(ctx); ok {
		return ctx
	}
	return services.WithRequestID(ctx, uuid.NewString())
}

package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"cyclemetry/internal/logging"
)

// Server is the bridge process: a JSON-RPC endpoint on a Unix socket that
// relays editor commands to the backend socket.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener
	rpc      *rpc.Server

	ctx       context.Context
	stop      context.CancelFunc
	conns     sync.WaitGroup
	closeOnce sync.Once
}

// NewServer binds the bridge at path. A stale socket file at path is
// replaced.
func NewServer(ctx context.Context, path, backendSocket string, logger *slog.Logger) (*Server, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return nil, errors.New("bridge server requires a socket path")
	case strings.TrimSpace(backendSocket) == "":
		return nil, errors.New("bridge server requires a backend socket")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	serverCtx, stop := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{proxy: newBackendProxy(backendSocket), logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		stop()
		return nil, fmt.Errorf("register bridge service: %w", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		stop()
		return nil, fmt.Errorf("remove stale bridge socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		stop()
		return nil, fmt.Errorf("listen on bridge socket: %w", err)
	}

	return &Server{path: path, logger: logger, listener: ln, rpc: rpcServer, ctx: serverCtx, stop: stop}, nil
}

// Path is the socket the bridge listens on.
func (s *Server) Path() string { return s.path }

// Serve accepts editor connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("bridge listening", logging.String("socket", s.path))
	s.conns.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.conns.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.WarnWithContext(s.logger, "bridge accept failed", "bridge_accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "editor clients fall back to HTTP"),
				logging.String(logging.FieldErrorHint, "check the socket directory permissions and restart the bridge"))
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.rpc.ServeCodec(jsonrpc.NewServerCodec(conn))
		}()
	}
}

// Close stops accepting, waits for open connections and removes the socket.
// It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.stop()
		_ = s.listener.Close()
		s.conns.Wait()
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(s.logger, "bridge socket cleanup failed", "bridge_socket_cleanup_failed",
				logging.String("socket", s.path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next bridge start has to replace the stale socket"))
		}
	})
}

type service struct {
	proxy  *backendProxy
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) SocketReady(_ SocketReadyRequest, resp *SocketReadyResponse) error {
	resp.Ready = s.proxy.ready()
	resp.SocketPath = s.proxy.socket
	return nil
}

func (s *service) Invoke(req InvokeRequest, resp *InvokeResponse) error {
	start := time.Now()
	out, err := s.proxy.invoke(s.ctx, req)
	attrs := []logging.Attr{
		logging.String("command", req.Command),
		logging.String(logging.FieldCorrelationID, req.RequestID),
		logging.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		s.logger.Debug("bridge command failed", logging.Args(append(attrs, logging.Error(err))...)...)
		return err
	}
	s.logger.Debug("bridge command", logging.Args(append(attrs, logging.Int("status", out.Status))...)...)
	*resp = *out
	return nil
}

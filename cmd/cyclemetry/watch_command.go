package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"cyclemetry/internal/connectivity"
	"cyclemetry/internal/logging"
	"cyclemetry/internal/session"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow backend connectivity until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				c, stop := signal.NotifyContext(c, os.Interrupt)
				defer stop()

				addr := strings.TrimSpace(metricsAddr)
				if addr == "" {
					addr = strings.TrimSpace(s.Config.Metrics.Bind)
				}
				if addr != "" {
					bound, shutdown, err := serveMetrics(c, addr, s)
					if err != nil {
						return err
					}
					defer shutdown()
					fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s/metrics\n", bound)
				}
				return watch(c, cmd, s)
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics and status on this address (overrides config)")
	return cmd
}

func watch(ctx context.Context, cmd *cobra.Command, s *session.Session) error {
	out := cmd.OutOrStdout()
	p := newStatusPrinter(out)
	transitions := make(chan connectivity.Transition, 16)
	unsub := s.Monitor.Subscribe(func(tr connectivity.Transition) {
		select {
		case transitions <- tr:
		default:
		}
	})
	defer unsub()

	initial := s.Monitor.Snapshot()
	fmt.Fprintln(out, p.line("Connection", connectionTone(initial), initial.Label()))
	s.Start()
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr := <-transitions:
			stamp := tr.To.Since.Format(time.TimeOnly)
			fmt.Fprintln(out, p.line(stamp, connectionTone(tr.To), tr.String()))
		}
	}
}

// serveMetrics starts the metrics listener and returns its bound address.
func serveMetrics(ctx context.Context, addr string, s *session.Session) (string, func(), error) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		report := buildStatusReport(s, s.Monitor.Snapshot())
		if err := json.NewEncoder(w).Encode(report); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	logger := logging.NewComponentLogger(s.Logger(), "metrics")
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return listener.Addr().String(), shutdown, nil
}

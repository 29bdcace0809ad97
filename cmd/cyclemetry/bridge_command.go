package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"cyclemetry/internal/config"
	"cyclemetry/internal/ipc"
	"cyclemetry/internal/logging"
)

func newBridgeCommand(ctx *commandContext) *cobra.Command {
	var backendSocket string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the desktop bridge that forwards editor calls to the backend socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			socket := strings.TrimSpace(cfg.Backend.BridgeSocket)
			if socket == "" {
				return errors.New("bridge socket is not configured; set backend.bridge_socket or pass --bridge")
			}
			target := strings.TrimSpace(backendSocket)
			if target == "" {
				target = cfg.Backend.BackendSocket
			} else if target, err = config.ExpandPath(target); err != nil {
				return err
			}
			if _, err := os.Stat(target); errors.Is(err, unix.ENOENT) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Backend socket %s does not exist yet; the bridge reports not ready until it appears\n", target)
			}

			c, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			logger := logging.NewComponentLogger(ctx.loggerFor(cfg), "bridge")
			srv, err := ipc.NewServer(c, socket, target, logger)
			if err != nil {
				return err
			}
			defer srv.Close()
			srv.Serve()

			fmt.Fprintf(cmd.OutOrStdout(), "Bridge listening on %s (backend %s)\n", srv.Path(), target)
			logger.Info("bridge started", logging.String("socket", srv.Path()), logging.String("backend_socket", target))
			<-c.Done()
			logger.Info("bridge shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&backendSocket, "backend-socket", "", "Backend unix socket to forward to (overrides config)")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"cyclemetry/internal/render"
	"cyclemetry/internal/session"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var noOpen bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the overlay video for the selected window",
		Long: "Render the overlay video for the selected window.\n\n" +
			"Press Ctrl-C once to ask the backend to cancel; the command keeps\n" +
			"reporting until the backend confirms. Press it again to stop waiting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if noOpen {
				cfg.Render.OpenOnComplete = false
			}
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, defaultConnectWait); err != nil {
					return err
				}
				return runRender(c, cmd.OutOrStdout(), s)
			})
		},
	}

	cmd.Flags().BoolVar(&noOpen, "no-open", false, "Do not open the video when the render completes")
	return cmd
}

func runRender(ctx context.Context, out io.Writer, s *session.Session) error {
	updates := make(chan render.Job, 64)
	unsub := s.Render.Subscribe(func(j render.Job) {
		select {
		case updates <- j:
		default:
		}
	})
	defer unsub()

	snap := s.Store.Snapshot()
	job, err := s.Render.Start(ctx, render.Request{Document: snap.Document, Activity: snap.Activity})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Render %s started (%s to %s)\n", job.ID, formatSeconds(snap.Timeline.Start), formatSeconds(snap.Timeline.End))

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	done := make(chan render.Job, 1)
	go func() {
		final, _ := s.Render.Wait(context.WithoutCancel(ctx))
		done <- final
	}()

	var last string
	cancelRequested := false
	for {
		select {
		case j := <-updates:
			if line := progressLine(j); line != last {
				fmt.Fprintln(out, line)
				last = line
			}
		case <-interrupts:
			if cancelRequested {
				return errors.New("stopped waiting; the backend may still be rendering")
			}
			cancelRequested = true
			fmt.Fprintln(out, "Cancelling render...")
			if err := s.Render.Cancel(ctx); err != nil {
				fmt.Fprintf(out, "Cancel request failed: %v\n", err)
				cancelRequested = false
			}
		case <-ctx.Done():
			return ctx.Err()
		case final := <-done:
			return reportRender(out, final)
		}
	}
}

func progressLine(j render.Job) string {
	switch {
	case j.Finalizing:
		return "Finalizing..."
	case j.Status == render.StatusCancelling:
		return fmt.Sprintf("Cancelling at %d%%", j.Percent)
	case j.Total > 0:
		return fmt.Sprintf("Rendering %3d%%  frame %.0f/%.0f  remaining %s", j.Percent, j.Current, j.Total, j.Remaining())
	default:
		return "Rendering..."
	}
}

func reportRender(out io.Writer, j render.Job) error {
	switch j.Status {
	case render.StatusDone:
		fmt.Fprintf(out, "Rendered %s\n", j.Filename)
		return nil
	case render.StatusCancelled:
		fmt.Fprintln(out, "Render cancelled")
		return nil
	default:
		if j.Err != nil {
			return fmt.Errorf("render failed: %w", j.Err)
		}
		return fmt.Errorf("render failed: %s", j.Message)
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Ask the backend to cancel the running render",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				ack, err := s.Client.CancelRender(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), orDefault(ack.Message, "Cancellation requested"))
				return nil
			})
		},
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

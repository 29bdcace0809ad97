package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cyclemetry/internal/backend"
	"cyclemetry/internal/config"
	"cyclemetry/internal/preview"
	"cyclemetry/internal/session"
)

func newActivityCommand(ctx *commandContext) *cobra.Command {
	activityCmd := &cobra.Command{
		Use:   "activity",
		Short: "Select the GPX activity the overlay is drawn from",
	}

	activityCmd.AddCommand(newActivityUploadCommand(ctx))
	activityCmd.AddCommand(newActivityLoadCommand(ctx))
	activityCmd.AddCommand(newActivityDemoCommand(ctx))
	activityCmd.AddCommand(newActivityShowCommand(ctx))

	return activityCmd
}

func newActivityUploadCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "upload <file.gpx>",
		Short: "Upload a local GPX file to the backend and select it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read activity: %w", err)
			}
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				activity, err := s.Client.UploadActivity(c, filepath.Base(path), data)
				if err != nil {
					return err
				}
				if err := selectActivity(cmd, s, activity); err != nil {
					return err
				}
				return refreshAfterEdit(c, cmd, s, refresh)
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "preview", false, "Generate a preview after selecting the activity")
	return cmd
}

func newActivityLoadCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "load <path>",
		Short: "Have the backend copy a GPX file from a host path and select it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				activity, err := s.Client.LoadActivity(c, path)
				if err != nil {
					return err
				}
				if err := selectActivity(cmd, s, activity); err != nil {
					return err
				}
				return refreshAfterEdit(c, cmd, s, refresh)
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "preview", false, "Generate a preview after selecting the activity")
	return cmd
}

func selectActivity(cmd *cobra.Command, s *session.Session, a backend.Activity) error {
	if err := s.Store.SetActivity(a.Filename, a.DurationSeconds); err != nil {
		return fmt.Errorf("select %s: %w", a.Filename, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Selected %s (%s)\n", a.Filename, formatSeconds(a.DurationSeconds))
	if a.Warning != "" {
		fmt.Fprintf(out, "Warning: %s\n", a.Warning)
	}
	return nil
}

func newActivityDemoCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Select the bundled demo activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				s.Store.LoadDemoActivity()
				snap := s.Store.Snapshot()
				fmt.Fprintf(cmd.OutOrStdout(), "Selected %s (%s)\n", snap.Activity, describeTimeline(snap.Timeline))
				return refreshAfterEdit(c, cmd, s, refresh)
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "preview", false, "Generate a preview after selecting the activity")
	return cmd
}

func newActivityShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the selected activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				snap := s.Store.Snapshot()
				if jsonOutput {
					return writeJSON(cmd, map[string]any{
						"filename":         snap.Activity,
						"duration_seconds": snap.Timeline.Duration,
					})
				}
				if !snap.HasActivity() {
					fmt.Fprintln(cmd.OutOrStdout(), preview.MessageNoActivity)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", snap.Activity, formatSeconds(snap.Timeline.Duration))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

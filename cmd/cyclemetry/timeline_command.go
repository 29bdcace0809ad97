package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cyclemetry/internal/document"
	"cyclemetry/internal/session"
)

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	timelineCmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect or move the render window and cursor",
	}

	timelineCmd.AddCommand(newTimelineShowCommand(ctx))
	timelineCmd.AddCommand(newTimelineSetCommand(ctx))

	return timelineCmd
}

func newTimelineShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the render window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				t := s.Store.Timeline()
				if jsonOutput {
					return writeJSON(cmd, t)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTimeline(t))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderTimeline(t document.Timeline) string {
	rows := [][]string{
		{"start", fmt.Sprint(t.Start), formatSeconds(t.Start)},
		{"end", fmt.Sprint(t.End), formatSeconds(t.End)},
		{"cursor", fmt.Sprint(t.Cursor), formatSeconds(t.Cursor)},
		{"duration", fmt.Sprint(t.Duration), formatSeconds(t.Duration)},
	}
	return renderTable([]string{"Handle", "Seconds", "Time"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}

func newTimelineSetCommand(ctx *commandContext) *cobra.Command {
	var start, end, cursor int
	var refresh bool

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Move the window start, end or cursor",
		Long: "Move the window start, end or cursor. Handles are applied in the order\n" +
			"start, end, cursor; a start past the end pushes the end along and the\n" +
			"reverse, and the cursor always stays inside the window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("start") && !flags.Changed("end") && !flags.Changed("cursor") {
				return errors.New("nothing to set; pass --start, --end or --cursor")
			}
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if flags.Changed("start") {
					s.Store.SetStart(start)
				}
				if flags.Changed("end") {
					s.Store.SetEnd(end)
				}
				if flags.Changed("cursor") {
					s.Store.SetCursor(cursor)
				}
				fmt.Fprintln(cmd.OutOrStdout(), describeTimeline(s.Store.Timeline()))
				return refreshAfterEdit(c, cmd, s, refresh)
			})
		},
	}

	cmd.Flags().IntVar(&start, "start", 0, "Window start in seconds")
	cmd.Flags().IntVar(&end, "end", 0, "Window end in seconds")
	cmd.Flags().IntVar(&cursor, "cursor", 0, "Preview cursor in seconds")
	cmd.Flags().BoolVar(&refresh, "preview", false, "Generate a preview after moving")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cyclemetry/internal/connectivity"
	"cyclemetry/internal/document"
	"cyclemetry/internal/preview"
	"cyclemetry/internal/session"
)

type statusReport struct {
	Connection    string            `json:"connection"`
	Ready         bool              `json:"ready"`
	Failures      int               `json:"consecutive_failures"`
	Endpoint      string            `json:"endpoint"`
	LastError     string            `json:"last_error,omitempty"`
	Activity      string            `json:"activity,omitempty"`
	HasDocument   bool              `json:"has_document"`
	Timeline      document.Timeline `json:"timeline"`
	AutoRender    bool              `json:"auto_render"`
	ImageFilename string            `json:"image_filename,omitempty"`
	VideoFilename string            `json:"video_filename,omitempty"`
	Error         string            `json:"error,omitempty"`
	StatePath     string            `json:"state_path"`
}

func buildStatusReport(s *session.Session, st connectivity.State) statusReport {
	snap := s.Store.Snapshot()
	_, hasDoc := snap.Document.Scene()
	report := statusReport{
		Connection:    st.Label(),
		Ready:         st.Ready,
		Failures:      st.ConsecutiveFailures,
		Endpoint:      s.Endpoint(),
		Activity:      snap.Activity,
		HasDocument:   hasDoc,
		Timeline:      snap.Timeline,
		AutoRender:    snap.AutoRender,
		ImageFilename: snap.ImageFilename,
		VideoFilename: snap.VideoFilename,
		Error:         snap.ErrorMessage,
		StatePath:     s.StatePath(),
	}
	if err := s.Monitor.LastError(); err != nil {
		report.LastError = err.Error()
	}
	return report
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var retry bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend connectivity and editor state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				wait := time.Duration(0)
				if retry {
					// A manual retry gets a full startup window again.
					cfg := s.Config.Connectivity
					wait = time.Duration(cfg.StartupFailureThreshold) * cfg.ProbeInterval.Std()
					s.Monitor.Retry()
				}
				st, err := s.Connect(c, wait, false)
				if err != nil && c.Err() != nil {
					return err
				}
				report := buildStatusReport(s, st)
				if jsonOutput {
					return writeJSON(cmd, report)
				}
				printStatus(cmd, report, st)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&retry, "retry", false, "Keep probing until the backend answers or the startup window passes")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, r statusReport, st connectivity.State) {
	out := cmd.OutOrStdout()
	p := newStatusPrinter(out)

	conn := r.Connection
	if r.Failures > 0 {
		conn = fmt.Sprintf("%s (%d failed probes)", conn, r.Failures)
	}
	lines := p.header("Backend")
	lines = append(lines,
		p.line("Connection", connectionTone(st), conn),
		p.line("Endpoint", toneInfo, r.Endpoint))
	if r.LastError != "" {
		lines = append(lines, p.line("Last error", toneWarn, r.LastError))
	}

	lines = append(lines, "")
	lines = append(lines, p.header("Editor")...)
	activity := p.line("Activity", toneWarn, preview.MessageNoActivity)
	if r.Activity != "" {
		activity = p.line("Activity", toneGood, fmt.Sprintf("%s (%s)", r.Activity, formatSeconds(r.Timeline.Duration)))
	}
	doc := p.line("Document", toneWarn, preview.MessageNoDocument)
	if r.HasDocument {
		doc = p.line("Document", toneGood, "loaded")
	}
	lines = append(lines, activity, doc,
		p.line("Timeline", toneInfo, describeTimeline(r.Timeline)),
		p.line("Auto render", toneInfo, yesNo(r.AutoRender)),
		p.line("Preview", toneInfo, orNone(r.ImageFilename)),
		p.line("Last video", toneInfo, orNone(r.VideoFilename)))
	if r.Error != "" {
		lines = append(lines, p.line("Error", toneBad, r.Error))
	}
	fmt.Fprintln(out, strings.Join(lines, "\n"))
}

func newWaitCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	var ready bool

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				st, err := s.Connect(c, timeout, ready)
				if err != nil {
					return wrapDialError(err, s.Endpoint())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backend %s at %s\n", st.Label(), s.Endpoint())
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "How long to keep probing")
	cmd.Flags().BoolVar(&ready, "ready", false, "Also wait until the backend has finished initializing")
	return cmd
}

func describeTimeline(t document.Timeline) string {
	return fmt.Sprintf("%s to %s, cursor %s of %s",
		formatSeconds(t.Start), formatSeconds(t.End), formatSeconds(t.Cursor), formatSeconds(t.Duration))
}

// formatSeconds renders whole seconds as m:ss, or h:mm:ss past an hour.
func formatSeconds(total int) string {
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func orNone(value string) string {
	if strings.TrimSpace(value) == "" {
		return "none"
	}
	return value
}

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"cyclemetry/internal/preview"
	"cyclemetry/internal/session"
)

const defaultConnectWait = 10 * time.Second

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var second int
	var open bool

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Generate a preview frame at the timeline cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, defaultConnectWait); err != nil {
					return err
				}
				if cmd.Flags().Changed("second") {
					s.Store.SetCursor(second)
				}
				filename, err := generatePreview(c, s)
				if errors.Is(err, errPreviewSkipped) {
					fmt.Fprintln(cmd.OutOrStdout(), previewSkippedMessage)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Preview at %s: %s\n", formatSeconds(s.Store.Timeline().Cursor), filename)
				if !open {
					return nil
				}
				return openImage(c, s, filename)
			})
		},
	}

	cmd.Flags().IntVar(&second, "second", 0, "Move the cursor to this second before generating")
	cmd.Flags().BoolVar(&open, "open", false, "Open the generated frame in the default viewer")
	return cmd
}

// errPreviewSkipped means the backend was busy with another frame; the
// store still holds the previous image.
var errPreviewSkipped = errors.New("preview skipped")

const previewSkippedMessage = "Backend busy, preview skipped"

// generatePreview issues a manual preview and waits for the reply.
func generatePreview(ctx context.Context, s *session.Session) (string, error) {
	s.Store.DismissError()
	outcome, issued, err := s.Preview.Generate(ctx)
	if err != nil {
		return "", err
	}
	if !issued {
		if msg := s.Store.Snapshot().ErrorMessage; msg != "" {
			return "", errors.New(msg)
		}
		return "", errors.New("a preview is already being generated")
	}
	snap := s.Store.Snapshot()
	switch outcome {
	case preview.OutcomeGenerated:
		return snap.ImageFilename, nil
	case preview.OutcomeBusy:
		return "", errPreviewSkipped
	}
	if snap.ErrorMessage != "" {
		return "", fmt.Errorf("preview failed: %s", snap.ErrorMessage)
	}
	return "", errors.New("preview failed")
}

// refreshAfterEdit regenerates the preview after a mutating command when the
// user asked for it with --preview.
func refreshAfterEdit(ctx context.Context, cmd *cobra.Command, s *session.Session, enabled bool) error {
	if !enabled {
		return nil
	}
	if err := connect(ctx, s, defaultConnectWait); err != nil {
		return err
	}
	filename, err := generatePreview(ctx, s)
	if errors.Is(err, errPreviewSkipped) {
		fmt.Fprintln(cmd.OutOrStdout(), previewSkippedMessage)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Preview: %s\n", filename)
	return nil
}

// openImage hands the frame to the desktop. Bridge replies are data URLs, so
// those are written to a temporary file first.
func openImage(ctx context.Context, s *session.Session, filename string) error {
	ref, err := s.Client.ImageURL(ctx, filename)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(ref, "data:") {
		return browser.OpenURL(ref)
	}
	_, payload, ok := strings.Cut(ref, ";base64,")
	if !ok {
		return fmt.Errorf("unsupported image reference for %s", filename)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode image %s: %w", filename, err)
	}
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".png"
	}
	path, err := writeTempImage(data, ext)
	if err != nil {
		return err
	}
	return browser.OpenFile(path)
}

// writeTempImage stores a decoded frame for the desktop viewer. The file is
// closed before it is handed over and stays in the temp directory, because
// the viewer reads it after this process has exited.
func writeTempImage(data []byte, ext string) (string, error) {
	f, err := os.CreateTemp("", "cyclemetry-preview-*"+ext)
	if err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write image: %w", err)
	}
	return f.Name(), nil
}

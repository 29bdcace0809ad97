package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cyclemetry/internal/document"
	"cyclemetry/internal/preview"
	"cyclemetry/internal/session"
)

func newDocumentCommand(ctx *commandContext) *cobra.Command {
	documentCmd := &cobra.Command{
		Use:     "document",
		Aliases: []string{"doc"},
		Short:   "Inspect or replace the overlay document",
	}

	documentCmd.AddCommand(newDocumentShowCommand(ctx))
	documentCmd.AddCommand(newDocumentEditCommand(ctx))

	return documentCmd
}

func newDocumentShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				doc := s.Store.Document()
				if doc == nil {
					return errors.New(preview.MessageNoDocument)
				}
				return writeJSON(cmd, doc)
			})
		},
	}
}

func newDocumentEditCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "edit <file|->",
		Short: "Replace the document with an edited copy",
		Long: "Replace the document with an edited copy read from a file or stdin.\n" +
			"The scene start and end are clamped to the activity and become the\n" +
			"new render window.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			doc, err := document.Parse(data)
			if err != nil {
				return err
			}
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if !s.Store.EditDocument(doc) {
					return errors.New("edit ignored while a timeline change is being applied; retry")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Document updated (%s)\n", describeTimeline(s.Store.Timeline()))
				return refreshAfterEdit(c, cmd, s, refresh)
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "preview", false, "Generate a preview after editing")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

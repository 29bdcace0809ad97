package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cyclemetry/internal/document"
	"cyclemetry/internal/session"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	templatesCmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template"},
		Short:   "Browse, load and save overlay templates",
	}

	templatesCmd.AddCommand(newTemplatesListCommand(ctx))
	templatesCmd.AddCommand(newTemplatesShowCommand(ctx))
	templatesCmd.AddCommand(newTemplatesLoadCommand(ctx))
	templatesCmd.AddCommand(newTemplatesSaveCommand(ctx))
	templatesCmd.AddCommand(newTemplatesOpenCommand(ctx))

	return templatesCmd
}

func newTemplatesListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and user templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				templates, err := s.Client.ListTemplates(c)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, templates)
				}
				if len(templates) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates found")
					return nil
				}
				rows := make([][]string, 0, len(templates))
				for _, t := range templates {
					rows = append(rows, []string{t.ID, t.Name, t.Type})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Type"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newTemplatesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a template document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				doc, err := s.Client.FetchTemplate(c, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, doc)
			})
		},
	}
}

func newTemplatesLoadCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "load <id>",
		Short: "Load a template into the editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				raw, err := s.Client.FetchTemplate(c, args[0])
				if err != nil {
					return err
				}
				s.Store.LoadDocument(document.Document(raw))
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s (%s)\n", args[0], describeTimeline(s.Store.Timeline()))
				return refreshAfterEdit(c, cmd, s, refresh)
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "preview", false, "Generate a preview after loading")
	return cmd
}

func newTemplatesSaveCommand(ctx *commandContext) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current document (or a file) as a user template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("template name is required")
			}
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				doc := s.Store.Document()
				if fromFile != "" {
					data, err := os.ReadFile(fromFile)
					if err != nil {
						return fmt.Errorf("read template: %w", err)
					}
					if doc, err = document.Parse(data); err != nil {
						return err
					}
				}
				if doc == nil {
					return errors.New("no document loaded; load a template or pass --file")
				}
				if err := connect(c, s, 0); err != nil {
					return err
				}
				saved, err := s.Client.SaveTemplate(c, name, doc)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), orDefault(saved.Message, "Saved "+saved.Filename))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Save this JSON file instead of the current document")
	return cmd
}

func newTemplatesOpenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the user templates folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				ack, err := s.Client.OpenTemplates(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), orDefault(ack.Message, "Templates folder opened"))
				return nil
			})
		},
	}
}

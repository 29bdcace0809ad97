package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cyclemetry/internal/session"
)

func newOpenCommand(ctx *commandContext) *cobra.Command {
	openCmd := &cobra.Command{
		Use:   "open",
		Short: "Open backend folders and files on the desktop",
	}

	openCmd.AddCommand(&cobra.Command{
		Use:   "downloads",
		Short: "Open the folder rendered videos are written to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				if err := connect(c, s, 0); err != nil {
					return err
				}
				ack, err := s.Client.OpenDownloads(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), orDefault(ack.Message, "Folder opened"))
				return nil
			})
		},
	})

	openCmd.AddCommand(&cobra.Command{
		Use:   "video [filename]",
		Short: "Open a rendered video, the most recent one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, readOnly, func(c context.Context, s *session.Session) error {
				filename := s.Store.Snapshot().VideoFilename
				if len(args) == 1 {
					filename = args[0]
				}
				if filename == "" {
					return errors.New("no video rendered yet; pass a filename")
				}
				if err := connect(c, s, 0); err != nil {
					return err
				}
				ack, err := s.Client.OpenVideo(c, filename)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), orDefault(ack.Message, "Video opened"))
				return nil
			})
		},
	})

	return openCmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cyclemetry/internal/session"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the persisted document, activity, window and last outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, exclusive, func(c context.Context, s *session.Session) error {
				if err := s.Store.Reset(c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Editor state reset (%s)\n", describeTimeline(s.Store.Timeline()))
				return nil
			})
		},
	}
}

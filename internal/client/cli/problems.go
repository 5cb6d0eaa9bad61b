package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/notesync/internal/client/session"
)

func (a *App) problemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "problems",
		GroupID: "sync",
		Short:   "List changes the server refused and uploads that gave up",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				p, err := s.Entries.Problems(ctx)
				if err != nil {
					return err
				}
				return a.styles.problems(a.out, p)
			})
		},
	}
}

func parseSeq(arg string) (int64, error) {
	seq, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("invalid change number %q", arg)
	}
	return seq, nil
}

func (a *App) retryCmd() *cobra.Command {
	var blob bool
	cmd := &cobra.Command{
		Use:     "retry <change-number | --blob local-key>",
		GroupID: "sync",
		Short:   "Send a refused change again, or restart a failed upload",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if blob {
					return s.Entries.RetryBlob(ctx, args[0])
				}
				seq, err := parseSeq(args[0])
				if err != nil {
					return err
				}
				if err := s.Entries.RetryDead(ctx, seq); err != nil {
					return err
				}
				s.Engine.Retry()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&blob, "blob", false, "the argument is an upload's local key")
	return cmd
}

func (a *App) discardCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "discard <change-number>",
		GroupID: "sync",
		Short:   "Drop a refused change and restore the server's copy",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSeq(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				return s.Entries.DiscardDead(ctx, seq)
			})
		},
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/client/session"
)

func (a *App) printStatus(ctx context.Context, s *session.Session) error {
	st, err := s.Status(ctx)
	if err != nil {
		return err
	}
	online := a.styles.warn.Render("offline")
	if a.monitor.Online() {
		online = a.styles.ok.Render("online")
	}
	fmt.Fprintf(a.out, "user:    %s\n", st.UserID)
	fmt.Fprintf(a.out, "server:  %s (%s)\n", a.config.ServerEndpointAddr, online)
	fmt.Fprintf(a.out, "sync:    %s\n", a.styles.state(st.State))
	if st.LastErr != nil {
		fmt.Fprintf(a.out, "error:   %s\n", a.styles.err.Render(st.LastErr.Error()))
	}
	fmt.Fprintf(a.out, "queued:  %d\n", st.Queued)
	if !st.Problems.Empty() {
		fmt.Fprintf(a.out, "%s\n", a.styles.err.Render(st.Problems.Summary()))
	}
	return nil
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show identity, connectivity and sync state",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				a.monitor.Probe(ctx)
				return a.printStatus(ctx, s)
			})
		},
	}
}

func (a *App) syncCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Upload attachments and push and pull changes until nothing is pending",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				wctx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()

				err := s.Flush(wctx)
				if errors.Is(err, context.DeadlineExceeded) {
					fmt.Fprintln(a.out, a.styles.warn.Render("not everything was synced before the deadline"))
					err = nil
				}
				if perr := a.printStatus(ctx, s); perr != nil {
					return errors.Join(err, perr)
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "give up after this long")
	return cmd
}

// watchCmd keeps the sync core running and prints every entity change and
// state transition. It follows sign-in and sign-out of other processes
// only through the credential it loaded at start.
func (a *App) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: "sync",
		Short:   "Stay online and print changes as they arrive",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, ok := a.tokens.CurrentIdentity(); !ok {
				fmt.Fprintln(a.out, a.styles.warn.Render("not signed in; waiting for a credential"))
			}

			m := session.NewManager(a.sessionOptions(), a.sessionDeps())
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.monitor.Run(gctx)
				return nil
			})
			g.Go(func() error { return m.Run(gctx) })
			g.Go(func() error { return a.follow(gctx, m) })

			err := g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func (a *App) follow(ctx context.Context, m *session.Manager) error {
	stop := func() {}
	defer func() { stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-m.Updates():
			stop()
			stop = func() {}
			if s == nil {
				fmt.Fprintln(a.out, a.styles.warn.Render("signed out"))
				continue
			}
			fmt.Fprintf(a.out, "%s %s\n", a.styles.header.Render("session"), s.UserID)

			sctx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				a.printChanges(sctx, s)
			}()
			stop = func() {
				cancel()
				<-done
			}
		}
	}
}

func (a *App) printChanges(ctx context.Context, s *session.Session) {
	states, unsubscribe := s.Engine.Subscribe()
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-states:
				fmt.Fprintf(a.out, "%s %s\n", a.styles.header.Render("state"), a.styles.state(st))
			}
		}
	}()

	entities, err := s.Entries.Subscribe(ctx, s.UserPath)
	if err != nil {
		a.logger.Error(ctx, "subscribe", "error", err)
		return
	}
	for e := range entities {
		if e.Deleted {
			fmt.Fprintf(a.out, "%s %s\n", a.styles.warn.Render("deleted"), a.styles.id.Render(e.ID))
			continue
		}
		fmt.Fprintf(a.out, "%s %s %s %s\n", a.styles.ok.Render("changed"), a.styles.id.Render(e.ID), e.Kind, label(e))
	}
}

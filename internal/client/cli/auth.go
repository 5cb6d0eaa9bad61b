package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
)

func (a *App) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "login [token]",
		GroupID: "auth",
		Short:   "Store an access token issued by the server",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				if token, err = GetSecret(a.in, "Access token", a.out); err != nil {
					return err
				}
			}

			id, err := a.auth.Login(cmd.Context(), token)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "signed in as %s\n", a.styles.header.Render(id.UserID))
			if err := a.auth.Ping(cmd.Context()); err != nil {
				fmt.Fprintln(a.out, a.styles.warn.Render("server not reachable; working offline"))
			}
			return nil
		},
	}
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		GroupID: "auth",
		Short:   "Forget the stored access token (local data is kept)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.auth.Logout(cmd.Context())
		},
	}
}

func (a *App) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		GroupID: "auth",
		Short:   "Show the signed-in user",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.auth.Whoami(cmd.Context())
			if errors.Is(err, auth.ErrExpired) {
				userID, _ := a.tokens.CurrentIdentity()
				fmt.Fprintf(a.out, "%s (%s)\n", userID, a.styles.err.Render("credential expired"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, id.UserID)
			if !id.Expires.IsZero() {
				fmt.Fprintf(a.out, " (expires %s)", id.Expires.Format(time.RFC3339))
			}
			fmt.Fprintln(a.out)
			return nil
		},
	}
}

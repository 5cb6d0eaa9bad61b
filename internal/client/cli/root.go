package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the command tree. Configuration flags are
// stripped from the command line before cobra sees it (see
// config.CommandArgs).
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "notesync",
		Short:         "Local-first notes that sync when they can",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddGroup(
		&cobra.Group{ID: "edit", Title: "Editing:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "auth", Title: "Account:"},
	)

	root.AddCommand(
		a.lsCmd(),
		a.showCmd(),
		a.newSessionCmd(),
		a.newNoteCmd(),
		a.editCmd(),
		a.mvCmd(),
		a.rmCmd(),
		a.attachCmd(),

		a.statusCmd(),
		a.syncCmd(),
		a.watchCmd(),
		a.problemsCmd(),
		a.retryCmd(),
		a.discardCmd(),

		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
	)
	return root
}

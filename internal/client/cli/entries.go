package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/notesync/internal/client/session"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/models"
)

func (a *App) lsCmd() *cobra.Command {
	var (
		parent  string
		kind    string
		deleted bool
	)
	cmd := &cobra.Command{
		Use:     "ls",
		GroupID: "edit",
		Short:   "List sessions, or the notes of one session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.ListOptions{ParentID: parent, Kind: models.EntityKind(kind), IncludeDeleted: deleted}
			if parent == "" && kind == "" {
				opts.Kind = models.EntitySession
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				var list []models.Entity
				for e, err := range s.Entries.List(ctx, opts) {
					if err != nil {
						return err
					}
					list = append(list, e)
				}
				return a.styles.entities(a.out, list)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "list children of this entity")
	cmd.Flags().StringVar(&kind, "kind", "", "only entities of this kind")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include deleted entities")
	return cmd
}

func (a *App) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "show <id>",
		GroupID: "edit",
		Short:   "Print every field of an entity",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				e, err := s.Entries.Get(ctx, args[0])
				if err != nil {
					return err
				}
				a.styles.entity(a.out, e)
				return nil
			})
		},
	}
}

// create commits a new entity and prints its id.
func (a *App) create(ctx context.Context, kind models.EntityKind, parent string, fields map[string]models.Value) error {
	return a.withSession(ctx, func(ctx context.Context, s *session.Session) error {
		e, err := s.Entries.Create(ctx, kind, parent, fields)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, e.ID)
		return nil
	})
}

func (a *App) newSessionCmd() *cobra.Command {
	var tags string
	cmd := &cobra.Command{
		Use:     "new-session <title> [name=value...]",
		GroupID: "edit",
		Short:   "Create a session",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := ParseAssignments(args[1:])
			if err != nil {
				return err
			}
			fields["title"] = models.String(args[0])
			if tags != "" {
				fields["tags"] = models.String(tags)
			}
			return a.create(cmd.Context(), models.EntitySession, "", fields)
		},
	}
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	return cmd
}

func (a *App) newNoteCmd() *cobra.Command {
	var title, body string
	cmd := &cobra.Command{
		Use:     "new-note <session-id> [name=value...]",
		GroupID: "edit",
		Short:   "Create a note in a session",
		Long:    "Create a note in a session. Without --body the text is read from standard input.",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := ParseAssignments(args[1:])
			if err != nil {
				return err
			}
			if title != "" {
				fields["title"] = models.String(title)
			}
			if _, ok := fields["body"]; !ok {
				if body == "" {
					if body, err = GetMultiline(a.in, "Note text:", a.out); err != nil {
						return err
					}
				}
				fields["body"] = models.String(body)
			}
			return a.create(cmd.Context(), models.EntityNote, args[0], fields)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "note title")
	cmd.Flags().StringVar(&body, "body", "", "note text")
	return cmd
}

func (a *App) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "edit <id> name=value...",
		GroupID: "edit",
		Short:   "Change fields of an entity (value null clears a field)",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deltas, err := ParseAssignments(args[1:])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				e, err := s.Entries.SubmitEdit(ctx, args[0], deltas)
				if err != nil {
					return err
				}
				a.styles.entity(a.out, e)
				return nil
			})
		},
	}
}

func (a *App) mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "mv <id> <new-parent-id>",
		GroupID: "edit",
		Short:   "Move a note to another session",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				_, err := s.Entries.Move(ctx, args[0], args[1])
				return err
			})
		},
	}
}

func (a *App) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		GroupID: "edit",
		Short:   "Delete an entity",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				_, err := s.Entries.Delete(ctx, args[0])
				return err
			})
		},
	}
}

func (a *App) attachCmd() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:     "attach <id> <file>",
		GroupID: "edit",
		Short:   "Queue a file for upload into a field of an entity",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				b, err := s.Entries.AttachMedia(ctx, args[0], field, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "queued %s (%s)\n", b.LocalKey, b.State)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "media", "field that receives the uploaded key")
	return cmd
}

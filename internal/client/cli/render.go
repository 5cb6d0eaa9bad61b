package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/syncengine"
	"github.com/dmitrijs2005/notesync/internal/models"
)

type styles struct {
	header lipgloss.Style
	id     lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
}

// newStyles binds the palette to one output; colours are dropped when the
// output is not a terminal.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().Bold(true),
		id:     r.NewStyle().Faint(true),
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("3")),
		err:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

func (s styles) state(st syncengine.State) string {
	switch st {
	case syncengine.Idle:
		return s.ok.Render(st.String())
	case syncengine.Error:
		return s.err.Render(st.String())
	case syncengine.Offline:
		return s.warn.Render(st.String())
	default:
		return st.String()
	}
}

// label is the one-line name of an entity: its title, else the start of
// its body.
func label(e models.Entity) string {
	if t := e.Get("title"); !t.IsNull() && t.Str != "" {
		return t.Str
	}
	body := e.Get("body").Str
	if line, _, _ := strings.Cut(body, "\n"); line != "" {
		if r := []rune(line); len(r) > 40 {
			line = string(r[:40]) + "…"
		}
		return line
	}
	return "(untitled)"
}

func (s styles) entities(w io.Writer, list []models.Entity) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, s.header.Render("ID")+"\t"+s.header.Render("KIND")+"\t"+s.header.Render("NAME")+"\t"+s.header.Render("PARENT"))
	for _, e := range list {
		name := label(e)
		if e.Deleted {
			name = s.warn.Render("deleted")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.id.Render(e.ID), e.Kind, name, e.ParentID)
	}
	return tw.Flush()
}

func (s styles) entity(w io.Writer, e models.Entity) {
	fmt.Fprintf(w, "%s %s\n", s.header.Render(string(e.Kind)), s.id.Render(e.ID))
	if e.ParentID != "" {
		fmt.Fprintf(w, "  parent: %s\n", e.ParentID)
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %s\n", name, e.Fields[name].Value)
	}
}

func (s styles) problems(w io.Writer, p services.Problems) error {
	if p.Empty() {
		fmt.Fprintln(w, s.ok.Render("no problems"))
		return nil
	}
	fmt.Fprintln(w, s.err.Render(p.Summary()))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range p.DeadMutations {
		fmt.Fprintf(tw, "change\t%d\t%s %s\t%s\n", d.Seq, d.Op, d.EntityID, d.Reason)
	}
	for _, b := range p.FailedBlobs {
		fmt.Fprintf(tw, "upload\t%s\t%s.%s\t%s\n", b.LocalKey, b.OwnerEntityID, b.Field, b.LastError)
	}
	return tw.Flush()
}

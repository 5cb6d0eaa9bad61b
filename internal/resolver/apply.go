package resolver

import "github.com/dmitrijs2005/notesync/internal/models"

// Apply folds one mutation into current (nil when the entity does not
// exist yet) using the same timestamp rules as Resolve. The incoming
// mutation wins ties, so the device that authored it keeps its value.
func Apply(current *models.Entity, rec models.MutationRecord) models.Entity {
	var e models.Entity
	if current == nil {
		e = models.Entity{
			ID:        rec.EntityID,
			Kind:      rec.Kind,
			Fields:    map[string]models.Field{},
			CreatedAt: rec.ClientTS,
		}
	} else {
		e = current.Clone()
	}
	if e.Kind == "" {
		e.Kind = rec.Kind
	}

	switch rec.Op {
	case models.OpDelete:
		if rec.ClientTS > e.DeletedAt && rec.ClientTS > e.MaxFieldTS() {
			e.Deleted = true
			e.DeletedAt = rec.ClientTS
		}
	default:
		for name, d := range rec.Deltas {
			if name == models.ParentField {
				if d.TS >= e.ParentTS {
					e.ParentID = d.Value.Str
					e.ParentTS = d.TS
				}
				continue
			}
			if cur, ok := e.Fields[name]; !ok || d.TS >= cur.TS {
				e.Fields[name] = d
			}
		}
		if e.Deleted && rec.MaxTS() > e.DeletedAt {
			e.Deleted = false
			e.DeletedAt = 0
		}
	}

	e.Touch()
	return e
}

// Package resolver merges entity states with field-level last-write-wins.
//
// The rules, applied per field (the parent relation included as the
// pseudo-field models.ParentField):
//
//   - the value with the strictly greater timestamp wins;
//   - on an exact tie the local value wins;
//   - a field present on one side only is taken from that side.
//
// Tombstones win outright only when strictly newer than every merged field;
// otherwise the entity survives and the delete is discarded.
//
// Everything here is a pure function of its arguments.
package resolver

import (
	"github.com/dmitrijs2005/notesync/internal/models"
)

// Result is the outcome of a merge: the entity to store and the sequence
// numbers of pending mutations that no longer need to be transmitted.
type Result struct {
	Entity    models.Entity
	Satisfied []int64
}

// Resolve merges the remote snapshot of an entity into the local copy.
// local may be nil (the entity is unknown on this device, or the store is
// being rebuilt). pending are the queued mutations of this entity in seq
// order.
func Resolve(local *models.Entity, remote models.Entity, pending []models.MutationRecord) Result {
	if local == nil {
		merged := remote.Clone()
		merged.Touch()
		return Result{Entity: merged, Satisfied: satisfied(merged, remote, pending)}
	}

	lf := local.VersionedFields()
	rf := remote.VersionedFields()

	fields := make(map[string]models.Field, len(lf)+len(rf))
	for name, l := range lf {
		fields[name] = l
	}
	for name, r := range rf {
		l, ok := fields[name]
		if !ok || r.TS > l.TS {
			fields[name] = r
		}
	}

	merged := models.Entity{
		ID:            local.ID,
		Kind:          local.Kind,
		Fields:        make(map[string]models.Field, len(fields)),
		ServerVersion: remote.ServerVersion,
		CreatedAt:     earliest(local.CreatedAt, remote.CreatedAt),
	}
	if merged.Kind == "" {
		merged.Kind = remote.Kind
	}
	for name, f := range fields {
		if name == models.ParentField {
			merged.ParentID = f.Value.Str
			merged.ParentTS = f.TS
			continue
		}
		merged.Fields[name] = f
	}

	var delTS int64
	if local.Deleted {
		delTS = local.DeletedAt
	}
	if remote.Deleted {
		delTS = max(delTS, remote.DeletedAt)
	}
	if (local.Deleted || remote.Deleted) && delTS > merged.MaxFieldTS() {
		merged.Deleted = true
		merged.DeletedAt = delTS
	}

	merged.Touch()
	return Result{Entity: merged, Satisfied: satisfied(merged, remote, pending)}
}

// satisfied lists pending records made redundant by the merge: deltas the
// remote already holds (or has superseded), deletes that lost or already
// happened remotely, and edits made moot by a winning delete.
func satisfied(merged, remote models.Entity, pending []models.MutationRecord) []int64 {
	var out []int64
	rf := remote.VersionedFields()

	for _, rec := range pending {
		switch rec.Op {
		case models.OpDelete:
			if !merged.Deleted || (remote.Deleted && remote.DeletedAt >= rec.ClientTS) {
				out = append(out, rec.Seq)
			}
		default:
			if merged.Deleted && rec.MaxTS() < merged.DeletedAt {
				out = append(out, rec.Seq)
				continue
			}
			if superseded(rec, rf) {
				out = append(out, rec.Seq)
			}
		}
	}
	return out
}

func superseded(rec models.MutationRecord, remote map[string]models.Field) bool {
	for name, d := range rec.Deltas {
		r, ok := remote[name]
		if !ok {
			return false
		}
		if r.TS > d.TS {
			continue
		}
		if r.TS == d.TS && r.Value.Equal(d.Value) {
			continue
		}
		return false
	}
	return true
}

func earliest(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}

// Rebuild reconstructs local state from remote snapshots alone, the path
// taken after local storage corruption.
func Rebuild(remotes []models.Entity) []models.Entity {
	out := make([]models.Entity, 0, len(remotes))
	for _, r := range remotes {
		out = append(out, Resolve(nil, r, nil).Entity)
	}
	return out
}

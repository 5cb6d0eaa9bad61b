package models

import "maps"

// EntityKind distinguishes sessions, notes and any later registered kinds.
type EntityKind string

const (
	EntitySession EntityKind = "session"
	EntityNote    EntityKind = "note"
)

// ParentField is the pseudo-field name under which parent moves travel in
// mutation deltas and take part in merges.
const ParentField = "_parent"

// Field is a value plus the timestamp of its last local modification
// (Unix nanoseconds).
type Field struct {
	Value Value `json:"value"`
	TS    int64 `json:"ts"`
}

// Entity is a versioned record. Every field carries its own timestamp so
// conflicts resolve per field rather than per document.
type Entity struct {
	ID            string           `json:"id"`
	Kind          EntityKind       `json:"kind"`
	ParentID      string           `json:"parent_id,omitempty"`
	ParentTS      int64            `json:"parent_ts,omitempty"`
	Fields        map[string]Field `json:"fields"`
	ServerVersion int64            `json:"server_version"`
	Deleted       bool             `json:"deleted"`
	DeletedAt     int64            `json:"deleted_at,omitempty"`
	CreatedAt     int64            `json:"created_at"`
	UpdatedAt     int64            `json:"updated_at"`
}

// Clone returns a deep copy.
func (e Entity) Clone() Entity {
	c := e
	c.Fields = maps.Clone(e.Fields)
	if c.Fields == nil {
		c.Fields = map[string]Field{}
	}
	return c
}

// Get returns the value of a field, or a null Value.
func (e Entity) Get(name string) Value {
	return e.Fields[name].Value
}

// VersionedFields returns the fields together with the parent pseudo-field,
// the view conflict resolution works on.
func (e Entity) VersionedFields() map[string]Field {
	out := make(map[string]Field, len(e.Fields)+1)
	maps.Copy(out, e.Fields)
	if e.ParentID != "" || e.ParentTS != 0 {
		out[ParentField] = Field{Value: String(e.ParentID), TS: e.ParentTS}
	}
	return out
}

// Touch recomputes UpdatedAt from field, parent and tombstone timestamps.
func (e *Entity) Touch() {
	latest := max(e.ParentTS, e.DeletedAt, e.CreatedAt)
	for _, f := range e.Fields {
		latest = max(latest, f.TS)
	}
	e.UpdatedAt = latest
}

// MaxFieldTS is the newest timestamp of any living field or the parent.
func (e Entity) MaxFieldTS() int64 {
	var latest int64
	for _, f := range e.VersionedFields() {
		latest = max(latest, f.TS)
	}
	return latest
}

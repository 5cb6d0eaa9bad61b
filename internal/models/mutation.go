package models

// MutationOp is the kind of change a MutationRecord describes.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// MutationRecord is one queued local change. Seq is strictly increasing
// per device and defines replay order.
type MutationRecord struct {
	Seq       int64            `json:"seq"`
	EntityID  string           `json:"entity_id"`
	Op        MutationOp       `json:"op"`
	Kind      EntityKind       `json:"kind,omitempty"`
	ParentID  string           `json:"parent_id,omitempty"`
	Deltas    map[string]Field `json:"deltas,omitempty"`
	ClientTS  int64            `json:"client_ts"`
	DependsOn int64            `json:"depends_on,omitempty"`
	Attempts  int              `json:"attempts,omitempty"`
	LastError string           `json:"last_error,omitempty"`
}

// MaxTS is the newest timestamp carried by the record.
func (r MutationRecord) MaxTS() int64 {
	latest := r.ClientTS
	for _, d := range r.Deltas {
		latest = max(latest, d.TS)
	}
	return latest
}

// DeadMutation is a record the remote permanently refused; it waits for a
// user decision (retry or discard).
type DeadMutation struct {
	MutationRecord
	Reason string `json:"reason"`
	DiedAt int64  `json:"died_at"`
}

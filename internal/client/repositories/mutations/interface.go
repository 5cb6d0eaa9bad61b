// Package mutations persists the device's outgoing change log: pending
// records in seq order and the dead sublist of permanently refused ones.
package mutations

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/models"
)

const (
	StatePending = "pending"
	StateDead    = "dead"
)

// Queued is a pending record together with whether its dependency (a
// parent create) is still pending. A dead dependency does not hold it.
type Queued struct {
	models.MutationRecord
	Blocked bool
}

// Repository describes persistence operations for mutation records.
type Repository interface {
	// Insert stores a new pending record.
	Insert(ctx context.Context, rec models.MutationRecord) error

	// Pending returns pending records with seq <= upTo (0 means no bound),
	// in seq order, flagged when blocked by a dependency.
	Pending(ctx context.Context, upTo int64) ([]Queued, error)

	// PendingFor returns the pending records of one entity in seq order.
	PendingFor(ctx context.Context, entityID string) ([]models.MutationRecord, error)

	// Get returns a record in any state, or common.ErrorNotFound.
	Get(ctx context.Context, seq int64) (models.MutationRecord, string, error)

	// HasEarlier reports whether a pending record of the entity precedes seq.
	HasEarlier(ctx context.Context, entityID string, seq int64) (bool, error)

	// CreateOf returns the seq and state of the entity's create that is
	// still in the log (pending or dead), or 0 when it was acknowledged.
	CreateOf(ctx context.Context, entityID string) (int64, string, error)

	// Dependents returns seqs of records waiting on seq.
	Dependents(ctx context.Context, seq int64) ([]int64, error)

	Delete(ctx context.Context, seq int64) error
	DeleteForEntity(ctx context.Context, entityID string) error

	// RecordFailure bumps the attempt counter and stores the error text.
	RecordFailure(ctx context.Context, seq int64, lastErr string) error

	MarkDead(ctx context.Context, seq int64, reason string, diedAt int64) error
	Revive(ctx context.Context, seq int64) error
	Dead(ctx context.Context) ([]models.DeadMutation, error)

	// Count returns the number of records in the given state.
	Count(ctx context.Context, state string) (int, error)

	// All returns every record regardless of state, in seq order.
	All(ctx context.Context) ([]models.DeadMutation, error)

	Clear(ctx context.Context) error
}

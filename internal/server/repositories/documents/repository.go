// Package documents persists the authoritative copy of every user's
// entities together with the per-user version counter and the record of
// applied mutations used to drop duplicate deliveries.
package documents

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/models"
)

// Repository describes the document storage of the service. Entities are
// scoped by user id; Entity.ServerVersion is the user's version at the
// time the entity last changed.
type Repository interface {
	// Get returns the entity (tombstones included) or common.ErrorNotFound.
	Get(ctx context.Context, userID, id string) (models.Entity, error)

	// GetMany returns the entities that exist among ids, in no particular order.
	GetMany(ctx context.Context, userID string, ids []string) ([]models.Entity, error)

	// Put inserts or replaces the entity.
	Put(ctx context.Context, userID string, e models.Entity) error

	// SelectUpdated returns entities with a version above since, oldest first.
	SelectUpdated(ctx context.Context, userID string, since int64) ([]models.Entity, error)

	// LockVersion returns the user's version and, within a transaction,
	// holds it until commit so concurrent pushes of one user serialize.
	LockVersion(ctx context.Context, userID string) (int64, error)

	// SetVersion stores the user's version.
	SetVersion(ctx context.Context, userID string, version int64) error

	// CurrentVersion returns the user's version, 0 for unknown users.
	CurrentVersion(ctx context.Context, userID string) (int64, error)

	// IsApplied reports whether the mutation (deviceID, seq) was applied.
	IsApplied(ctx context.Context, userID, deviceID string, seq int64) (bool, error)

	// MarkApplied records the mutation (deviceID, seq) as applied.
	MarkApplied(ctx context.Context, userID, deviceID string, seq int64, entityID string) error
}

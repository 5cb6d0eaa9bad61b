package entities

import (
	"context"
	"iter"

	"github.com/dmitrijs2005/notesync/internal/models"
)

// Order selects the sort order of List.
type Order string

const (
	UpdatedDesc Order = "updated_desc"
	UpdatedAsc  Order = "updated_asc"
	CreatedAsc  Order = "created_asc"
)

// ListOptions filters List. Zero value lists every living entity, most
// recently updated first.
type ListOptions struct {
	ParentID       string
	Kind           models.EntityKind
	Order          Order
	IncludeDeleted bool
	Limit          int
}

// Repository describes persistence operations for entities.
type Repository interface {
	// Put inserts or replaces the entity by id.
	Put(ctx context.Context, e models.Entity) error

	// Get returns the entity (tombstones included) or common.ErrorNotFound.
	Get(ctx context.Context, id string) (models.Entity, error)

	// List streams entities lazily in the requested order.
	List(ctx context.Context, opts ListOptions) iter.Seq2[models.Entity, error]

	// MarkDeleted tombstones the entity at ts.
	MarkDeleted(ctx context.Context, id string, ts int64) error

	// Purge removes the row entirely.
	Purge(ctx context.Context, id string) error

	// Count returns the number of rows, tombstones included.
	Count(ctx context.Context) (int, error)

	// Clear removes every row.
	Clear(ctx context.Context) error
}

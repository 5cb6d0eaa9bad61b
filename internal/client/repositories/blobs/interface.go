// Package blobs persists PendingBlob rows for the upload coordinator.
package blobs

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/models"
)

// Repository describes persistence operations for pending blobs.
type Repository interface {
	// Upsert inserts the blob or replaces the row with the same local key.
	Upsert(ctx context.Context, b models.PendingBlob) error

	// Get returns the blob or common.ErrorNotFound.
	Get(ctx context.Context, localKey string) (models.PendingBlob, error)

	// ListByState returns blobs in any of the given states, oldest first.
	// No states means all.
	ListByState(ctx context.Context, states ...models.UploadState) ([]models.PendingBlob, error)

	Delete(ctx context.Context, localKey string) error
	Clear(ctx context.Context) error
}

package client

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/rpc"
)

// PushResult is the outcome of pushing one mutation. Entity is the server
// copy after an Ack, or the conflicting copy after a Conflict.
type PushResult struct {
	Status rpc.PushStatus
	Entity *models.Entity
	Reason string
}

type Client interface {
	Close() error
	Ping(ctx context.Context) error
	Pull(ctx context.Context, userPath string, since int64) ([]models.Entity, int64, error)
	Push(ctx context.Context, userPath, deviceID string, rec models.MutationRecord, baseVersion int64) (PushResult, error)
	Fetch(ctx context.Context, userPath string, ids []string) ([]models.Entity, error)

	// Watch delivers the user's latest version whenever it moves. The
	// channel closes when ctx ends or the stream breaks.
	Watch(ctx context.Context, userPath string) (<-chan int64, error)
}

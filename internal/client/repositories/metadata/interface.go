// Package metadata is the key/value side table of the on-device store:
// sync cursor, next sequence number, device and user identity.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeySyncCursor = "sync_cursor"
	KeyNextSeq    = "next_seq"
	KeyDeviceID   = "device_id"
	KeyUserID     = "user_id"
)

type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	// GetInt returns 0 when the key is absent.
	GetInt(ctx context.Context, key string) (int64, error)
	SetInt(ctx context.Context, key string, v int64) error

	// Next atomically increments an integer key and returns the new value.
	Next(ctx context.Context, key string) (int64, error)
}

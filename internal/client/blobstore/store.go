// Package blobstore uploads media payloads to S3-compatible object storage
// and fetches them back by key.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

// Store is the blob store contract used by the upload coordinator.
type Store interface {
	Upload(ctx context.Context, payload io.ReadSeeker) (string, error)
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// NewKey returns a fresh object key under the user's prefix, partitioned
// by upload date.
func NewKey(userID string, now time.Time) string {
	return fmt.Sprintf("users/%s/%04d/%02d/%02d/%v", userID, now.Year(), now.Month(), now.Day(), uuid.New())
}

// MemoryStore keeps blobs in process. Used when no bucket is configured
// and in tests.
type MemoryStore struct {
	userID string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore(userID string) *MemoryStore {
	return &MemoryStore{userID: userID, objects: map[string][]byte{}}
}

func (m *MemoryStore) Upload(ctx context.Context, payload io.ReadSeeker) (string, error) {
	data, err := io.ReadAll(payload)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}

	key := NewKey(m.userID, time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return key, nil
}

func (m *MemoryStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

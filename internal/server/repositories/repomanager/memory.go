package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/server/repositories/documents"
)

// MemoryStorage keeps documents in process memory. Units of work run one
// at a time and are not rolled back on error.
type MemoryStorage struct {
	mu   sync.Mutex
	repo *documents.MemoryRepository
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{repo: documents.NewMemoryRepository()}
}

func (s *MemoryStorage) Documents() documents.Repository {
	return s.repo
}

func (s *MemoryStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, repo documents.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, s.repo)
}

func (s *MemoryStorage) Close() error { return nil }

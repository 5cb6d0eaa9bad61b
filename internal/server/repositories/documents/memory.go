package documents

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/models"
)

type appliedKey struct {
	userID   string
	deviceID string
	seq      int64
}

// MemoryRepository keeps everything in process memory. It is safe for
// concurrent use; LockVersion does not lock anything, callers serialize
// pushes themselves.
type MemoryRepository struct {
	mu       sync.RWMutex
	docs     map[string]map[string]models.Entity
	versions map[string]int64
	applied  map[appliedKey]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:     map[string]map[string]models.Entity{},
		versions: map[string]int64{},
		applied:  map[appliedKey]string{},
	}
}

func (r *MemoryRepository) Get(_ context.Context, userID, id string) (models.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.docs[userID][id]
	if !ok {
		return models.Entity{}, common.ErrorNotFound
	}
	return e.Clone(), nil
}

func (r *MemoryRepository) GetMany(_ context.Context, userID string, ids []string) ([]models.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Entity
	for _, id := range ids {
		if e, ok := r.docs[userID][id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) Put(_ context.Context, userID string, e models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, ok := r.docs[userID]
	if !ok {
		docs = map[string]models.Entity{}
		r.docs[userID] = docs
	}
	docs[e.ID] = e.Clone()
	return nil
}

func (r *MemoryRepository) SelectUpdated(_ context.Context, userID string, since int64) ([]models.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Entity
	for _, e := range r.docs[userID] {
		if e.ServerVersion > since {
			out = append(out, e.Clone())
		}
	}
	slices.SortFunc(out, func(a, b models.Entity) int {
		return cmp.Compare(a.ServerVersion, b.ServerVersion)
	})
	return out, nil
}

func (r *MemoryRepository) LockVersion(ctx context.Context, userID string) (int64, error) {
	return r.CurrentVersion(ctx, userID)
}

func (r *MemoryRepository) SetVersion(_ context.Context, userID string, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions[userID] = version
	return nil
}

func (r *MemoryRepository) CurrentVersion(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.versions[userID], nil
}

func (r *MemoryRepository) IsApplied(_ context.Context, userID, deviceID string, seq int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.applied[appliedKey{userID, deviceID, seq}]
	return ok, nil
}

func (r *MemoryRepository) MarkApplied(_ context.Context, userID, deviceID string, seq int64, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applied[appliedKey{userID, deviceID, seq}] = entityID
	return nil
}

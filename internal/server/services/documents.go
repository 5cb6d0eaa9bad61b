// Package services holds the business logic of the document service:
// applying pushed mutations to the authoritative copy, serving pulls and
// fetches, and announcing version changes to watchers.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/resolver"
	"github.com/dmitrijs2005/notesync/internal/rpc"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/documents"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
)

// PushResult is the outcome of one pushed mutation. Entity is the current
// server copy for Ack and Conflict.
type PushResult struct {
	Status rpc.PushStatus
	Entity *models.Entity
	Reason string
}

// DocumentService is the remote authority over every user's entities.
type DocumentService struct {
	storage   repomanager.Storage
	hub       *Hub
	rootKinds map[models.EntityKind]bool
	logger    logging.Logger
}

// NewDocumentService returns a service over storage. Entities of
// rootKinds may exist without a parent; it defaults to sessions.
func NewDocumentService(storage repomanager.Storage, hub *Hub, logger logging.Logger, rootKinds ...models.EntityKind) *DocumentService {
	if len(rootKinds) == 0 {
		rootKinds = []models.EntityKind{models.EntitySession}
	}
	roots := make(map[models.EntityKind]bool, len(rootKinds))
	for _, k := range rootKinds {
		roots[k] = true
	}
	return &DocumentService{
		storage:   storage,
		hub:       hub,
		rootKinds: roots,
		logger:    logger.Module("documents"),
	}
}

func validate(deviceID string, rec models.MutationRecord) error {
	switch {
	case deviceID == "":
		return fmt.Errorf("%w: missing device id", common.ErrInvalidRecord)
	case rec.EntityID == "":
		return fmt.Errorf("%w: missing entity id", common.ErrInvalidRecord)
	case rec.Seq <= 0:
		return fmt.Errorf("%w: sequence must be positive", common.ErrInvalidRecord)
	}
	switch rec.Op {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown op %q", common.ErrInvalidRecord, rec.Op)
	}
}

// parentOf is the parent a mutation asks for, if any.
func parentOf(rec models.MutationRecord) (string, bool) {
	if d, ok := rec.Deltas[models.ParentField]; ok {
		return d.Value.Str, true
	}
	if rec.ParentID != "" {
		return rec.ParentID, true
	}
	return "", false
}

// Push applies rec from deviceID on behalf of userID. A mutation already
// applied is acknowledged again without changes. A mutation based on a
// stale version is answered with Conflict and the current copy. A missing
// parent fails with common.ErrParentMissing.
func (s *DocumentService) Push(ctx context.Context, userID, deviceID string, rec models.MutationRecord, baseVersion int64) (PushResult, error) {
	if err := validate(deviceID, rec); err != nil {
		return PushResult{}, err
	}

	var (
		result    PushResult
		published int64
	)
	err := s.storage.WithinTx(ctx, func(ctx context.Context, repo documents.Repository) error {
		version, err := repo.LockVersion(ctx, userID)
		if err != nil {
			return err
		}

		dup, err := repo.IsApplied(ctx, userID, deviceID, rec.Seq)
		if err != nil {
			return err
		}

		var current *models.Entity
		cur, err := repo.Get(ctx, userID, rec.EntityID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
		case err != nil:
			return err
		default:
			current = &cur
		}

		if dup {
			if current == nil {
				result = PushResult{Status: rpc.PushRejected, Reason: "entity no longer exists"}
				return nil
			}
			result = PushResult{Status: rpc.PushAck, Entity: current}
			return nil
		}

		if current == nil {
			if rec.Op != models.OpCreate {
				result = PushResult{Status: rpc.PushRejected, Reason: fmt.Sprintf("%s: entity does not exist", rec.Op)}
				return nil
			}
			parent, _ := parentOf(rec)
			if err := s.checkParent(ctx, repo, userID, rec.EntityID, rec.Kind, parent); err != nil {
				return err
			}
		} else {
			if baseVersion != current.ServerVersion {
				result = PushResult{Status: rpc.PushConflict, Entity: current}
				return nil
			}
			if parent, ok := parentOf(rec); ok && parent != current.ParentID {
				if err := s.checkParent(ctx, repo, userID, rec.EntityID, current.Kind, parent); err != nil {
					return err
				}
			}
		}

		next := resolver.Apply(current, rec)
		version++
		next.ServerVersion = version

		if err := repo.Put(ctx, userID, next); err != nil {
			return err
		}
		if err := repo.SetVersion(ctx, userID, version); err != nil {
			return err
		}
		if err := repo.MarkApplied(ctx, userID, deviceID, rec.Seq, rec.EntityID); err != nil {
			return err
		}

		result = PushResult{Status: rpc.PushAck, Entity: &next}
		published = version
		return nil
	})
	if err != nil {
		return PushResult{}, err
	}

	if published > 0 {
		s.hub.Publish(userID, published)
	}
	s.logger.Debug(ctx, "push", "user", userID, "device", deviceID, "seq", rec.Seq,
		"entity", rec.EntityID, "op", string(rec.Op), "status", string(result.Status))
	return result, nil
}

func (s *DocumentService) checkParent(ctx context.Context, repo documents.Repository, userID, id string, kind models.EntityKind, parent string) error {
	if parent == "" {
		if s.rootKinds[kind] {
			return nil
		}
		return fmt.Errorf("%w: %s needs a parent", common.ErrParentMissing, kind)
	}
	if parent == id {
		return fmt.Errorf("%w: %s cannot be its own parent", common.ErrParentMissing, id)
	}

	p, err := repo.Get(ctx, userID, parent)
	if errors.Is(err, common.ErrorNotFound) || (err == nil && p.Deleted) {
		return fmt.Errorf("%w: %s", common.ErrParentMissing, parent)
	}
	return err
}

// Pull returns the entities of userID changed after since, tombstones
// included, and the cursor to continue from.
func (s *DocumentService) Pull(ctx context.Context, userID string, since int64) ([]models.Entity, int64, error) {
	repo := s.storage.Documents()

	// Reading the cursor first may return entities above it; they come
	// again on the next pull and applying them twice is harmless.
	cursor, err := repo.CurrentVersion(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	entities, err := repo.SelectUpdated(ctx, userID, since)
	if err != nil {
		return nil, 0, err
	}
	return entities, cursor, nil
}

// Fetch returns the entities among ids that exist, tombstones included.
func (s *DocumentService) Fetch(ctx context.Context, userID string, ids []string) ([]models.Entity, error) {
	return s.storage.Documents().GetMany(ctx, userID, ids)
}

// Version returns the current version of userID.
func (s *DocumentService) Version(ctx context.Context, userID string) (int64, error) {
	return s.storage.Documents().CurrentVersion(ctx, userID)
}

// Watch subscribes to version changes of userID.
func (s *DocumentService) Watch(userID string) (<-chan int64, func()) {
	return s.hub.Subscribe(userID)
}

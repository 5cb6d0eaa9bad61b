package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/notesync/internal/client/queue"
	"github.com/dmitrijs2005/notesync/internal/client/schema"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/resolver"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

var (
	ErrDeleted       = errors.New("entity is deleted")
	ErrReservedField = errors.New("reserved field name")
	ErrStopped       = errors.New("edit service stopped")
)

// BlobQueue is the part of the upload coordinator the edit model uses.
type BlobQueue interface {
	Enqueue(ctx context.Context, b models.PendingBlob) error
	Retry(ctx context.Context, localKey string) error
	Failures(ctx context.Context) ([]models.PendingBlob, error)
}

// Fetcher reads authoritative copies from the remote.
type Fetcher interface {
	Fetch(ctx context.Context, userPath string, ids []string) ([]models.Entity, error)
}

// Problems are the user-actionable sync failures.
type Problems struct {
	DeadMutations []models.DeadMutation
	FailedBlobs   []models.PendingBlob
}

func (p Problems) Empty() bool {
	return len(p.DeadMutations) == 0 && len(p.FailedBlobs) == 0
}

// Summary renders the banner shown to the user.
func (p Problems) Summary() string {
	var out string
	if n := len(p.DeadMutations); n > 0 {
		out = fmt.Sprintf("%d %s failed to sync (retry or discard)", n, plural(n, "change", "changes"))
	}
	if n := len(p.FailedBlobs); n > 0 {
		if out != "" {
			out += "; "
		}
		out += fmt.Sprintf("%d %s failed to upload (retry)", n, plural(n, "attachment", "attachments"))
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// EntryService is the presentation boundary: the edit model returns the
// committed entity immediately, the read model streams entities.
//
// Writes run one at a time on the service's actor goroutine (see Run).
type EntryService interface {
	Run(ctx context.Context) error

	Create(ctx context.Context, kind models.EntityKind, parentID string, fields map[string]models.Value) (models.Entity, error)
	SubmitEdit(ctx context.Context, id string, deltas map[string]models.Value) (models.Entity, error)
	Move(ctx context.Context, id, parentID string) (models.Entity, error)
	Delete(ctx context.Context, id string) (models.Entity, error)

	Get(ctx context.Context, id string) (models.Entity, error)
	List(ctx context.Context, opts store.ListOptions) iter.Seq2[models.Entity, error]
	Subscribe(ctx context.Context, userPath string) (iter.Seq[models.Entity], error)

	AttachMedia(ctx context.Context, id, field, path string) (models.PendingBlob, error)
	LinkBlob(ctx context.Context, entityID, field, remoteKey string) error

	Problems(ctx context.Context) (Problems, error)
	RetryDead(ctx context.Context, seq int64) error
	DiscardDead(ctx context.Context, seq int64) error
	RetryBlob(ctx context.Context, localKey string) error
}

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type entryService struct {
	userPath string
	store    *store.Store
	queue    *queue.Queue
	schema   *schema.Registry
	clock    *timex.Clock
	blobs    BlobQueue
	remote   Fetcher
	logger   logging.Logger

	requests chan request
	stopped  chan struct{}
}

// Deps are the collaborators of one user's edit model.
type Deps struct {
	Store  *store.Store
	Queue  *queue.Queue
	Schema *schema.Registry
	Clock  *timex.Clock
	Blobs  BlobQueue
	Remote Fetcher
	Logger logging.Logger
}

func NewEntryService(userPath string, d Deps) EntryService {
	return &entryService{
		userPath: userPath,
		store:    d.Store,
		queue:    d.Queue,
		schema:   d.Schema,
		clock:    d.Clock,
		blobs:    d.Blobs,
		remote:   d.Remote,
		logger:   d.Logger.Module("entries"),
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
}

// Run is the writer actor. It returns when ctx ends.
func (s *entryService) Run(ctx context.Context) error {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.requests:
			r.done <- r.fn(r.ctx)
		}
	}
}

func (s *entryService) do(ctx context.Context, fn func(ctx context.Context) error) error {
	r := request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.requests <- r:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit applies rec to the current entity, validates the result and
// writes entity and record in one transaction.
func (s *entryService) commit(ctx context.Context, cur *models.Entity, rec models.MutationRecord) (models.Entity, error) {
	next := resolver.Apply(cur, rec)
	if !next.Deleted {
		if err := s.schema.Validate(next.Kind, next.Fields); err != nil {
			return models.Entity{}, err
		}
	}
	if _, err := s.store.ApplyEdit(ctx, next, rec); err != nil {
		return models.Entity{}, err
	}
	s.queue.Signal()
	return next, nil
}

func (s *entryService) live(ctx context.Context, id string) (models.Entity, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return e, err
	}
	if e.Deleted {
		return e, fmt.Errorf("%w: %s", ErrDeleted, id)
	}
	return e, nil
}

func (s *entryService) checkParent(ctx context.Context, kind models.EntityKind, parentID string) error {
	if parentID == "" {
		return s.schema.CheckParent(kind, "")
	}
	parent, err := s.live(ctx, parentID)
	if err != nil {
		return fmt.Errorf("parent %s: %w", parentID, err)
	}
	return s.schema.CheckParent(kind, parent.Kind)
}

func stamp(values map[string]models.Value, ts int64) (map[string]models.Field, error) {
	out := make(map[string]models.Field, len(values))
	for name, v := range values {
		if name == "" || name == models.ParentField {
			return nil, fmt.Errorf("%w: %q", ErrReservedField, name)
		}
		out[name] = models.Field{Value: v, TS: ts}
	}
	return out, nil
}

func (s *entryService) Create(ctx context.Context, kind models.EntityKind, parentID string, fields map[string]models.Value) (models.Entity, error) {
	var out models.Entity
	err := s.do(ctx, func(ctx context.Context) error {
		if err := s.checkParent(ctx, kind, parentID); err != nil {
			return err
		}

		ts := s.clock.Now()
		deltas, err := stamp(fields, ts)
		if err != nil {
			return err
		}
		if parentID != "" {
			deltas[models.ParentField] = models.Field{Value: models.String(parentID), TS: ts}
		}

		rec := models.MutationRecord{
			EntityID: uuid.NewString(),
			Op:       models.OpCreate,
			Kind:     kind,
			ParentID: parentID,
			Deltas:   deltas,
			ClientTS: ts,
		}

		unlock := s.store.Lock(rec.EntityID)
		defer unlock()
		out, err = s.commit(ctx, nil, rec)
		return err
	})
	return out, err
}

// update runs an edit of an existing live entity under its lock.
func (s *entryService) update(ctx context.Context, id string, build func(cur models.Entity, ts int64) (models.MutationRecord, error)) (models.Entity, error) {
	var out models.Entity
	err := s.do(ctx, func(ctx context.Context) error {
		unlock := s.store.Lock(id)
		defer unlock()

		cur, err := s.live(ctx, id)
		if err != nil {
			return err
		}
		ts := s.clock.Now()
		rec, err := build(cur, ts)
		if err != nil {
			return err
		}
		rec.EntityID = id
		rec.Kind = cur.Kind
		rec.ClientTS = ts
		out, err = s.commit(ctx, &cur, rec)
		return err
	})
	return out, err
}

func (s *entryService) SubmitEdit(ctx context.Context, id string, deltas map[string]models.Value) (models.Entity, error) {
	return s.update(ctx, id, func(cur models.Entity, ts int64) (models.MutationRecord, error) {
		d, err := stamp(deltas, ts)
		if err != nil {
			return models.MutationRecord{}, err
		}
		return models.MutationRecord{Op: models.OpUpdate, Deltas: d}, nil
	})
}

// Move re-parents an entity. The parent travels as the _parent field, so
// concurrent moves resolve like any other field.
func (s *entryService) Move(ctx context.Context, id, parentID string) (models.Entity, error) {
	return s.update(ctx, id, func(cur models.Entity, ts int64) (models.MutationRecord, error) {
		if parentID == id {
			return models.MutationRecord{}, fmt.Errorf("%w: entity cannot be its own parent", schema.ErrParent)
		}
		if err := s.checkParent(ctx, cur.Kind, parentID); err != nil {
			return models.MutationRecord{}, err
		}
		return models.MutationRecord{
			Op:       models.OpUpdate,
			ParentID: parentID,
			Deltas: map[string]models.Field{
				models.ParentField: {Value: models.String(parentID), TS: ts},
			},
		}, nil
	})
}

func (s *entryService) Delete(ctx context.Context, id string) (models.Entity, error) {
	return s.update(ctx, id, func(cur models.Entity, ts int64) (models.MutationRecord, error) {
		return models.MutationRecord{Op: models.OpDelete}, nil
	})
}

// LinkBlob stores an uploaded blob's key in the owner's field.
func (s *entryService) LinkBlob(ctx context.Context, entityID, field, remoteKey string) error {
	_, err := s.SubmitEdit(ctx, entityID, map[string]models.Value{field: models.String(remoteKey)})
	return err
}

// Get returns a live entity; tombstones read as not found.
func (s *entryService) Get(ctx context.Context, id string) (models.Entity, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return e, err
	}
	if e.Deleted {
		return models.Entity{}, common.ErrorNotFound
	}
	return e, nil
}

func (s *entryService) List(ctx context.Context, opts store.ListOptions) iter.Seq2[models.Entity, error] {
	return s.store.List(ctx, opts)
}

// Subscribe yields the user's live entities, then every entity committed
// afterwards. Deleted or purged entities come through as tombstones so the
// reader can drop them. The sequence ends with ctx.
func (s *entryService) Subscribe(ctx context.Context, userPath string) (iter.Seq[models.Entity], error) {
	if userPath != s.userPath {
		return nil, fmt.Errorf("%w: %s", common.ErrPermissionDenied, userPath)
	}

	return func(yield func(models.Entity) bool) {
		sub := s.store.Changes()
		defer sub.Close()

		for e, err := range s.store.List(ctx, store.ListOptions{}) {
			if err != nil {
				s.logger.Error(ctx, "subscription snapshot", "error", err)
				return
			}
			if !yield(e) {
				return
			}
		}

		for {
			ids, err := sub.Next(ctx)
			if err != nil {
				return
			}
			for _, id := range ids {
				e, err := s.store.Get(ctx, id)
				switch {
				case errors.Is(err, common.ErrorNotFound):
					e = models.Entity{ID: id, Deleted: true}
				case err != nil:
					s.logger.Error(ctx, "subscription read", "id", id, "error", err)
					continue
				}
				if !yield(e) {
					return
				}
			}
		}
	}, nil
}

// AttachMedia queues the file at path for upload into field of entity id.
func (s *entryService) AttachMedia(ctx context.Context, id, field, path string) (models.PendingBlob, error) {
	e, err := s.live(ctx, id)
	if err != nil {
		return models.PendingBlob{}, err
	}

	probe := maps.Clone(e.Fields)
	if probe == nil {
		probe = map[string]models.Field{}
	}
	probe[field] = models.Field{Value: models.String("pending")}
	if err := s.schema.Validate(e.Kind, probe); err != nil {
		return models.PendingBlob{}, err
	}

	b := models.PendingBlob{
		LocalKey:      uuid.NewString(),
		OwnerEntityID: id,
		Field:         field,
		PayloadRef:    path,
	}
	if err := s.blobs.Enqueue(ctx, b); err != nil {
		return models.PendingBlob{}, err
	}
	b.State = models.UploadQueued
	return b, nil
}

func (s *entryService) Problems(ctx context.Context) (Problems, error) {
	dead, err := s.queue.Dead(ctx)
	if err != nil {
		return Problems{}, err
	}
	failed, err := s.blobs.Failures(ctx)
	if err != nil {
		return Problems{}, err
	}
	return Problems{DeadMutations: dead, FailedBlobs: failed}, nil
}

func (s *entryService) RetryDead(ctx context.Context, seq int64) error {
	return s.queue.RetryDead(ctx, seq)
}

func (s *entryService) RetryBlob(ctx context.Context, localKey string) error {
	return s.blobs.Retry(ctx, localKey)
}

// DiscardDead drops a dead record and puts the entity back to the remote
// copy with the remaining queued records replayed on top. An entity the
// remote has never seen is removed together with its queued records.
func (s *entryService) DiscardDead(ctx context.Context, seq int64) error {
	var rec models.MutationRecord
	dead, err := s.queue.Dead(ctx)
	if err != nil {
		return err
	}
	for _, d := range dead {
		if d.Seq == seq {
			rec = d.MutationRecord
		}
	}
	if rec.Seq == 0 {
		return fmt.Errorf("%w: seq %d", queue.ErrNotDead, seq)
	}

	remote, err := s.remote.Fetch(ctx, s.userPath, []string{rec.EntityID})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rec.EntityID, err)
	}

	return s.do(ctx, func(ctx context.Context) error {
		unlock := s.store.Lock(rec.EntityID)
		defer unlock()

		if _, err := s.queue.DiscardDead(ctx, seq); err != nil {
			return err
		}

		if len(remote) == 0 {
			err := s.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
				if err := r.Mutations.DeleteForEntity(ctx, rec.EntityID); err != nil {
					return err
				}
				return r.Entities.Purge(ctx, rec.EntityID)
			})
			if err != nil {
				return err
			}
			s.store.Notify(rec.EntityID)
			s.logger.Info(ctx, "discarded local-only entity", "entity", rec.EntityID, "seq", seq)
			return nil
		}

		pending, err := s.queue.PendingFor(ctx, rec.EntityID)
		if err != nil {
			return err
		}
		reverted := remote[0].Clone()
		reverted.Touch()
		for _, p := range pending {
			reverted = resolver.Apply(&reverted, p)
		}
		if err := s.store.Put(ctx, reverted); err != nil {
			return err
		}
		s.logger.Info(ctx, "discarded dead mutation", "entity", rec.EntityID, "seq", seq, "replayed", len(pending))
		return nil
	})
}

package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/queue"
	"github.com/dmitrijs2005/notesync/internal/client/schema"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

type fakeBlobs struct {
	mu       sync.Mutex
	enqueued []models.PendingBlob
	failed   []models.PendingBlob
	retried  []string
}

func (f *fakeBlobs) Enqueue(ctx context.Context, b models.PendingBlob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, b)
	return nil
}

func (f *fakeBlobs) Retry(ctx context.Context, localKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, localKey)
	return nil
}

func (f *fakeBlobs) Failures(ctx context.Context) ([]models.PendingBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed, nil
}

type fakeFetcher struct {
	entities map[string]models.Entity
}

func (f *fakeFetcher) Fetch(ctx context.Context, userPath string, ids []string) ([]models.Entity, error) {
	var out []models.Entity
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

type fixture struct {
	store  *store.Store
	queue  *queue.Queue
	blobs  *fakeBlobs
	remote *fakeFetcher
	svc    EntryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "u1.db"), logging.NewNopLogger())
	require.NoError(t, err)

	f := &fixture{
		store:  s,
		queue:  queue.New(s, logging.NewNopLogger()),
		blobs:  &fakeBlobs{},
		remote: &fakeFetcher{entities: map[string]models.Entity{}},
	}
	f.svc = NewEntryService("users/u1", Deps{
		Store:  s,
		Queue:  f.queue,
		Schema: schema.NewRegistry(),
		Clock:  timex.NewClock(),
		Blobs:  f.blobs,
		Remote: f.remote,
		Logger: logging.NewNopLogger(),
	})

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = s.Close()
	})
	return f
}

func (f *fixture) session(t *testing.T, title string) models.Entity {
	t.Helper()
	e, err := f.svc.Create(context.Background(), models.EntitySession, "",
		map[string]models.Value{"title": models.String(title)})
	require.NoError(t, err)
	return e
}

func (f *fixture) pending(t *testing.T, id string) []models.MutationRecord {
	t.Helper()
	recs, err := f.queue.PendingFor(context.Background(), id)
	require.NoError(t, err)
	return recs
}

func TestCreate_StoresAndQueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.session(t, "Standup")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "Standup", s.Get("title").Str)

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Fields, got.Fields)

	recs := f.pending(t, s.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.OpCreate, recs[0].Op)
	assert.Equal(t, models.EntitySession, recs[0].Kind)
}

func TestCreate_NoteNeedsSessionParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, models.EntityNote, "", map[string]models.Value{"body": models.String("x")})
	assert.ErrorIs(t, err, schema.ErrParent)

	_, err = f.svc.Create(ctx, models.EntityNote, "missing", map[string]models.Value{"body": models.String("x")})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	s := f.session(t, "Retro")
	n, err := f.svc.Create(ctx, models.EntityNote, s.ID, map[string]models.Value{"body": models.String("x")})
	require.NoError(t, err)
	assert.Equal(t, s.ID, n.ParentID)

	recs := f.pending(t, n.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, s.ID, recs[0].ParentID)
	assert.Equal(t, s.ID, recs[0].Deltas[models.ParentField].Value.Str)
}

func TestCreate_SchemaViolation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), models.EntitySession, "",
		map[string]models.Value{"title": models.String("x"), "colour": models.String("red")})
	assert.ErrorIs(t, err, schema.ErrInvalid)

	_, err = f.svc.Create(context.Background(), "board", "", nil)
	assert.ErrorIs(t, err, schema.ErrUnknownKind)
}

func TestSubmitEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "Draft")

	e, err := f.svc.SubmitEdit(ctx, s.ID, map[string]models.Value{"title": models.String("Final")})
	require.NoError(t, err)
	assert.Equal(t, "Final", e.Get("title").Str)
	assert.Greater(t, e.Fields["title"].TS, s.Fields["title"].TS)
	assert.Len(t, f.pending(t, s.ID), 2)

	_, err = f.svc.SubmitEdit(ctx, s.ID, map[string]models.Value{models.ParentField: models.String("x")})
	assert.ErrorIs(t, err, ErrReservedField)

	_, err = f.svc.SubmitEdit(ctx, s.ID, map[string]models.Value{"pinned": models.String("yes")})
	assert.ErrorIs(t, err, schema.ErrInvalid)
	assert.Len(t, f.pending(t, s.ID), 2)
}

func TestMoveAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.session(t, "A")
	b := f.session(t, "B")

	n, err := f.svc.Create(ctx, models.EntityNote, a.ID, map[string]models.Value{"body": models.String("x")})
	require.NoError(t, err)

	moved, err := f.svc.Move(ctx, n.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, moved.ParentID)
	assert.Greater(t, moved.ParentTS, n.ParentTS)

	_, err = f.svc.Move(ctx, n.ID, n.ID)
	assert.ErrorIs(t, err, schema.ErrParent)

	_, err = f.svc.Delete(ctx, n.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, n.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.svc.SubmitEdit(ctx, n.ID, map[string]models.Value{"body": models.String("y")})
	assert.ErrorIs(t, err, ErrDeleted)

	recs := f.pending(t, n.ID)
	require.Len(t, recs, 3)
	assert.Equal(t, models.OpDelete, recs[2].Op)
}

func TestSubscribe_SnapshotThenUpdates(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, "First")

	_, err := f.svc.Subscribe(context.Background(), "users/other")
	assert.ErrorIs(t, err, common.ErrPermissionDenied)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seq, err := f.svc.Subscribe(ctx, "users/u1")
	require.NoError(t, err)

	out := make(chan models.Entity, 8)
	go func() {
		for e := range seq {
			out <- e
		}
		close(out)
	}()

	first := <-out
	assert.Equal(t, s.ID, first.ID)

	_, err = f.svc.SubmitEdit(context.Background(), s.ID, map[string]models.Value{"title": models.String("Second")})
	require.NoError(t, err)

	for e := range out {
		if e.ID == s.ID && e.Get("title").Str == "Second" {
			cancel()
			return
		}
	}
	t.Fatal("update never delivered")
}

func TestAttachMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "S")
	n, err := f.svc.Create(ctx, models.EntityNote, s.ID, map[string]models.Value{"body": models.String("x")})
	require.NoError(t, err)

	b, err := f.svc.AttachMedia(ctx, n.ID, "media", "/tmp/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, models.UploadQueued, b.State)
	require.Len(t, f.blobs.enqueued, 1)
	assert.Equal(t, n.ID, f.blobs.enqueued[0].OwnerEntityID)
	assert.Equal(t, "/tmp/photo.jpg", f.blobs.enqueued[0].PayloadRef)

	_, err = f.svc.AttachMedia(ctx, n.ID, "unknown", "/tmp/photo.jpg")
	assert.ErrorIs(t, err, schema.ErrInvalid)

	require.NoError(t, f.svc.LinkBlob(ctx, n.ID, "media", "users/u1/k"))
	got, err := f.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "users/u1/k", got.Get("media").Str)
}

func TestProblems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Problems(ctx)
	require.NoError(t, err)
	assert.True(t, p.Empty())

	s := f.session(t, "S")
	rec := f.pending(t, s.ID)[0]
	require.NoError(t, f.queue.MarkDead(ctx, rec.Seq, "title too long"))
	f.blobs.failed = []models.PendingBlob{{LocalKey: "b1"}}

	p, err = f.svc.Problems(ctx)
	require.NoError(t, err)
	require.Len(t, p.DeadMutations, 1)
	assert.Equal(t, "title too long", p.DeadMutations[0].Reason)
	assert.Equal(t, "1 change failed to sync (retry or discard); 1 attachment failed to upload (retry)", p.Summary())

	require.NoError(t, f.svc.RetryDead(ctx, rec.Seq))
	require.NoError(t, f.svc.RetryBlob(ctx, "b1"))
	assert.Equal(t, []string{"b1"}, f.blobs.retried)

	dead, err := f.queue.Dead(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestDiscardDead_RevertsToRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "Synced")

	remote := s.Clone()
	remote.ServerVersion = 3
	f.remote.entities[s.ID] = remote
	require.NoError(t, f.queue.Acknowledge(ctx, f.pending(t, s.ID)[0].Seq))

	_, err := f.svc.SubmitEdit(ctx, s.ID, map[string]models.Value{"title": models.String("Refused")})
	require.NoError(t, err)
	rec := f.pending(t, s.ID)[0]
	require.NoError(t, f.queue.MarkDead(ctx, rec.Seq, "rejected"))

	require.NoError(t, f.svc.DiscardDead(ctx, rec.Seq))

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Synced", got.Get("title").Str)
	assert.Equal(t, int64(3), got.ServerVersion)

	assert.ErrorIs(t, f.svc.DiscardDead(ctx, rec.Seq), queue.ErrNotDead)
}

func TestDiscardDead_LocalOnlyIsRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(t, "Never synced")
	rec := f.pending(t, s.ID)[0]
	require.NoError(t, f.queue.MarkDead(ctx, rec.Seq, "rejected"))

	require.NoError(t, f.svc.DiscardDead(ctx, rec.Seq))

	_, err := f.store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, f.pending(t, s.ID))
}

func TestEdits_AfterStopFail(t *testing.T) {
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "u1.db"), logging.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	svc := NewEntryService("users/u1", Deps{
		Store:  s,
		Queue:  queue.New(s, logging.NewNopLogger()),
		Schema: schema.NewRegistry(),
		Clock:  timex.NewClock(),
		Blobs:  &fakeBlobs{},
		Remote: &fakeFetcher{},
		Logger: logging.NewNopLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx))

	_, err = svc.Create(context.Background(), models.EntitySession, "", map[string]models.Value{"title": models.String("x")})
	assert.ErrorIs(t, err, ErrStopped)
}

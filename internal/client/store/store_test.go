package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/repositories/mutations"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "u1.db"), logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newNote(id, parent string, ts int64) models.Entity {
	e := models.Entity{
		ID: id, Kind: models.EntityNote, ParentID: parent,
		Fields:    map[string]models.Field{"title": {Value: models.String(id), TS: ts}},
		CreatedAt: ts,
	}
	if parent != "" {
		e.ParentTS = ts
	}
	e.Touch()
	return e
}

func createRecord(e models.Entity) models.MutationRecord {
	return models.MutationRecord{
		EntityID: e.ID, Op: models.OpCreate, Kind: e.Kind, ParentID: e.ParentID,
		Deltas: e.VersionedFields(), ClientTS: e.CreatedAt,
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN("/data/u1.db")
	assert.Contains(t, dsn, "file:/data/u1.db?")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
	assert.Contains(t, dsn, "synchronous%28FULL%29")
}

func TestOpen_DeviceIDIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u1.db")
	ctx := context.Background()

	s, err := Open(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)
	id1, err := s.DeviceID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()
	id2, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestApplyEdit_WritesEntityAndMutationTogether(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := newNote("n1", "", 10)
	rec, err := s.ApplyEdit(ctx, e, createRecord(e))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Seq)

	got, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	var pending []models.MutationRecord
	require.NoError(t, s.View(ctx, func(ctx context.Context, r Repos) error {
		pending, err = r.Mutations.PendingFor(ctx, "n1")
		return err
	}))
	require.Len(t, pending, 1)
	assert.Equal(t, rec.Seq, pending[0].Seq)
}

func TestAppendMutation_ChildDependsOnParentCreate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	parent := newNote("s1", "", 1)
	parent.Kind = models.EntitySession
	prec, err := s.ApplyEdit(ctx, parent, createRecord(parent))
	require.NoError(t, err)

	child := newNote("n1", "s1", 2)
	crec, err := s.ApplyEdit(ctx, child, createRecord(child))
	require.NoError(t, err)
	assert.Equal(t, prec.Seq, crec.DependsOn)
	assert.Greater(t, crec.Seq, prec.Seq)
}

func TestAppendMutation_ChildOfDeadParentCreateIsDead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	parent := newNote("s1", "", 1)
	parent.Kind = models.EntitySession
	prec, err := s.ApplyEdit(ctx, parent, createRecord(parent))
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(ctx context.Context, r Repos) error {
		return r.Mutations.MarkDead(ctx, prec.Seq, "forbidden", 1)
	}))

	child := newNote("n1", "s1", 2)
	crec, err := s.ApplyEdit(ctx, child, createRecord(child))
	require.NoError(t, err)
	assert.Equal(t, prec.Seq, crec.DependsOn)

	require.NoError(t, s.View(ctx, func(ctx context.Context, r Repos) error {
		_, state, err := r.Mutations.Get(ctx, crec.Seq)
		require.NoError(t, err)
		assert.Equal(t, mutations.StateDead, state)
		return nil
	}))

	got, err := s.Get(ctx, "n1")
	require.NoError(t, err, "the local edit is kept")
	assert.Equal(t, "s1", got.ParentID)
}

func TestSequence_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u1.db")
	ctx := context.Background()

	s, err := Open(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)
	a, err := s.NextSequence(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, logging.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()
	b, err := s.NextSequence(ctx)
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestList_ReadYourWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, newNote("a", "s1", 1)))
	require.NoError(t, s.Put(ctx, newNote("b", "s1", 2)))
	require.NoError(t, s.Put(ctx, newNote("c", "s2", 3)))
	require.NoError(t, s.MarkDeleted(ctx, "a", 4))

	var ids []string
	for e, err := range s.List(ctx, ListOptions{ParentID: "s1"}) {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"b"}, ids)

	ids = nil
	for e, err := range s.List(ctx, ListOptions{Order: OrderCreatedAsc, IncludeDeleted: true}) {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, s.Purge(ctx, "a"))
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, c)

	require.NoError(t, s.SetCursor(ctx, 17))
	c, err = s.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(17), c)
}

func TestChanges_CoalescesIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := s.Changes()
	defer sub.Close()

	require.NoError(t, s.Put(ctx, newNote("a", "", 1)))
	require.NoError(t, s.Put(ctx, newNote("a", "", 2)))
	require.NoError(t, s.Put(ctx, newNote("b", "", 3)))

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ids, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	sub.Close()
	s.Notify("c")
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_SerializesSameEntity(t *testing.T) {
	s := openTestStore(t)

	unlock := s.Lock("e1")
	acquired := make(chan struct{})
	go func() {
		u := s.Lock("e1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestStorageFull_LatchesUntilResumed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{path: "mock", db: db, logger: logging.NewNopLogger()}
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entities").WillReturnError(errors.New("database or disk is full (13)"))
	mock.ExpectRollback()

	err = s.Put(ctx, newNote("a", "", 1))
	require.ErrorIs(t, err, ErrStorageFull)
	assert.True(t, s.Full())

	// refused without touching the database
	require.ErrorIs(t, s.Put(ctx, newNote("b", "", 2)), ErrStorageFull)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metadata").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM metadata").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.ResumeWrites(ctx))
	assert.False(t, s.Full())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	base := errors.New("x")
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("database or disk is full"), ErrStorageFull},
		{errors.New("database disk image is malformed (11)"), ErrStorageCorrupt},
		{errors.New("file is not a database (26)"), ErrStorageCorrupt},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, classify(tt.err), tt.want, tt.err.Error())
	}
	assert.Equal(t, base, classify(base))
	assert.NoError(t, classify(nil))
}

func TestOpen_GarbageFileIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u1.db")
	garbage := make([]byte, 8192)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	s, err := Open(context.Background(), path, logging.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Corrupted())

	_, err = s.Get(context.Background(), "n1")
	assert.ErrorIs(t, err, ErrStorageCorrupt)

	sv, err := s.Recreate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sv.DeviceID)
	assert.False(t, s.Corrupted())

	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err)
	require.NoError(t, s.SetCursor(context.Background(), 1))
}

func TestRecreate_KeepsQueueAndIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	dev, err := s.DeviceID(ctx)
	require.NoError(t, err)

	e := newNote("n1", "", 10)
	rec, err := s.ApplyEdit(ctx, e, createRecord(e))
	require.NoError(t, err)
	require.NoError(t, s.SetCursor(ctx, 99))
	require.NoError(t, s.Update(ctx, func(ctx context.Context, r Repos) error {
		return r.Blobs.Upsert(ctx, models.PendingBlob{LocalKey: "k", OwnerEntityID: "n1", Field: "media", PayloadRef: "/p"})
	}))

	sv, err := s.Recreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, dev, sv.DeviceID)
	require.Len(t, sv.Mutations, 1)
	assert.Equal(t, rec.Seq, sv.Mutations[0].Seq)
	require.Len(t, sv.Blobs, 1)

	_, err = s.Get(ctx, "n1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	c, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, c)

	dev2, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, dev, dev2)

	next, err := s.NextSequence(ctx)
	require.NoError(t, err)
	assert.Greater(t, next, rec.Seq)

	_, err = os.Stat(s.Path() + ".corrupt")
	assert.NoError(t, err)
	require.NoError(t, s.CheckIntegrity(ctx))
}

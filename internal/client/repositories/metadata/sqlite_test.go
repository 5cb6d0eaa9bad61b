package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestSetAndGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyDeviceID, []byte("dev-1")))
	require.NoError(t, r.Set(ctx, KeyDeviceID, []byte("dev-2")))

	v, err := r.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, []byte("dev-2"), v)

	v, err = r.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestIntegers(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	n, err := r.GetInt(ctx, KeySyncCursor)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.SetInt(ctx, KeySyncCursor, 1234567890123))
	n, err = r.GetInt(ctx, KeySyncCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890123), n)

	require.NoError(t, r.Set(ctx, "bad", []byte("x")))
	_, err = r.GetInt(ctx, "bad")
	assert.Error(t, err)
}

func TestNext_StrictlyIncreasing(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := r.Next(ctx, KeyNextSeq)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, r.SetInt(ctx, KeyNextSeq, 41))
	got, err := r.Next(ctx, KeyNextSeq)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestListDeleteClear(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte{0xAA}))
	require.NoError(t, r.Set(ctx, "b", []byte{0xBB, 0xCC}))

	m, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": {0xAA}, "b": {0xBB, 0xCC}}, m)

	require.NoError(t, r.Delete(ctx, "a"))
	require.NoError(t, r.Delete(ctx, "a"))

	require.NoError(t, r.Clear(ctx))
	m, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestClosedDBErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "k")
	assert.ErrorContains(t, err, "failed to get metadata[k]")
	assert.ErrorContains(t, r.Set(ctx, "k", nil), "failed to set metadata[k]")
	_, err = r.Next(ctx, KeyNextSeq)
	assert.ErrorContains(t, err, "failed to increment metadata[next_seq]")
	_, err = r.List(ctx)
	assert.ErrorContains(t, err, "failed to list metadata")
}

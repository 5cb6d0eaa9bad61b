package documents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/models"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	_, err := r.Get(ctx, "u1", "a")
	require.ErrorIs(t, err, common.ErrorNotFound)

	a := models.Entity{ID: "a", Kind: models.EntitySession, ServerVersion: 2,
		Fields: map[string]models.Field{"title": {Value: models.String("A"), TS: 1}}}
	b := models.Entity{ID: "b", Kind: models.EntityNote, ParentID: "a", ServerVersion: 1}
	require.NoError(t, r.Put(ctx, "u1", a))
	require.NoError(t, r.Put(ctx, "u1", b))
	require.NoError(t, r.Put(ctx, "u2", models.Entity{ID: "c", ServerVersion: 9}))

	got, err := r.Get(ctx, "u1", "a")
	require.NoError(t, err)
	got.Fields["title"] = models.Field{Value: models.String("changed")}
	again, _ := r.Get(ctx, "u1", "a")
	assert.Equal(t, "A", again.Get("title").Str, "callers get copies")

	updated, err := r.SelectUpdated(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, "b", updated[0].ID)
	assert.Equal(t, "a", updated[1].ID)

	updated, err = r.SelectUpdated(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, updated, 1)

	many, err := r.GetMany(ctx, "u1", []string{"a", "c", "zzz"})
	require.NoError(t, err)
	assert.Len(t, many, 1, "other users' documents are invisible")
}

func TestMemoryRepository_VersionsAndApplied(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	v, err := r.LockVersion(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, v)
	require.NoError(t, r.SetVersion(ctx, "u1", 4))
	v, _ = r.CurrentVersion(ctx, "u1")
	assert.EqualValues(t, 4, v)

	ok, _ := r.IsApplied(ctx, "u1", "d1", 1)
	assert.False(t, ok)
	require.NoError(t, r.MarkApplied(ctx, "u1", "d1", 1, "a"))
	ok, _ = r.IsApplied(ctx, "u1", "d1", 1)
	assert.True(t, ok)
	ok, _ = r.IsApplied(ctx, "u2", "d1", 1)
	assert.False(t, ok)
}

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/models"
)

func fields(kv ...any) map[string]models.Field {
	out := map[string]models.Field{}
	for i := 0; i < len(kv); i += 2 {
		v, err := models.FromNative(kv[i+1])
		if err != nil {
			panic(err)
		}
		out[kv[i].(string)] = models.Field{Value: v, TS: 1}
	}
	return out
}

func TestValidate_Session(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Validate(models.EntitySession, fields("title", "Trip", "pinned", true)))

	err := r.Validate(models.EntitySession, fields("pinned", true))
	assert.ErrorIs(t, err, ErrInvalid, "title required")

	err = r.Validate(models.EntitySession, fields("title", "x", "pinned", "yes"))
	assert.ErrorIs(t, err, ErrInvalid, "pinned must be bool")

	err = r.Validate(models.EntitySession, fields("title", nil))
	assert.ErrorIs(t, err, ErrInvalid, "null title counts as missing")

	err = r.Validate(models.EntitySession, fields("title", "x", "colour", "red"))
	assert.ErrorIs(t, err, ErrInvalid, "unknown field")
}

func TestValidate_Note(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Validate(models.EntityNote, fields("body", "hello", "position", 3)))
	require.NoError(t, r.Validate(models.EntityNote, fields()))

	err := r.Validate(models.EntityNote, fields("position", -1))
	assert.ErrorIs(t, err, ErrInvalid)

	err = r.Validate(models.EntityNote, fields("position", 1.5))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate_UnknownKind(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("sketch", fields())
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCheckParent(t *testing.T) {
	r := NewRegistry()

	assert.NoError(t, r.CheckParent(models.EntitySession, ""))
	assert.NoError(t, r.CheckParent(models.EntityNote, models.EntitySession))
	assert.ErrorIs(t, r.CheckParent(models.EntityNote, ""), ErrParent)
	assert.ErrorIs(t, r.CheckParent(models.EntitySession, models.EntitySession), ErrParent)
	assert.ErrorIs(t, r.CheckParent("sketch", ""), ErrUnknownKind)
}

func TestRegister_CustomKind(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Kind{
		Name:   "checklist",
		Parent: models.EntitySession,
		Schema: `{"type":"object","properties":{"done":{"type":"boolean"}}}`,
	}))
	assert.Equal(t, []models.EntityKind{"checklist", "note", "session"}, r.Kinds())
	assert.NoError(t, r.Validate("checklist", fields("done", false)))

	assert.Error(t, r.Register(Kind{Name: "broken", Schema: `{"type":`}))
	assert.Error(t, r.Register(Kind{Schema: `{}`}))
}

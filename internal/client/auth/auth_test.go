package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func token(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("any"))
	require.NoError(t, err)
	return s
}

func TestSetToken_Identity(t *testing.T) {
	a := NewTokenAuthenticator()

	_, ok := a.CurrentIdentity()
	assert.False(t, ok)
	assert.ErrorIs(t, a.Check(context.Background()), ErrNoCredentials)

	tok := token(t, "u1", time.Now().Add(time.Hour))
	require.NoError(t, a.SetToken(tok))

	id, ok := a.CurrentIdentity()
	assert.True(t, ok)
	assert.Equal(t, "u1", id)

	got, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestSetToken_Invalid(t *testing.T) {
	a := NewTokenAuthenticator()
	assert.Error(t, a.SetToken("garbage"))
	assert.Error(t, a.SetToken(token(t, "", time.Now().Add(time.Hour))))
}

func TestCheck_Expired(t *testing.T) {
	a := NewTokenAuthenticator()
	now := time.Now()
	a.now = func() time.Time { return now }

	require.NoError(t, a.SetToken(token(t, "u1", now.Add(time.Minute))))
	require.NoError(t, a.Check(context.Background()))

	a.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.ErrorIs(t, a.Check(context.Background()), ErrExpired)
	_, err := a.Token(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
}

func TestSubscribe_IdentityChanges(t *testing.T) {
	a := NewTokenAuthenticator()
	ch, cancel := a.Subscribe()
	defer cancel()

	require.NoError(t, a.SetToken(token(t, "u1", time.Now().Add(time.Hour))))
	assert.Equal(t, "u1", <-ch)

	// refreshed token for the same user is not an identity change
	require.NoError(t, a.SetToken(token(t, "u1", time.Now().Add(2*time.Hour))))
	select {
	case id := <-ch:
		t.Fatalf("unexpected change to %q", id)
	default:
	}

	require.NoError(t, a.SetToken(token(t, "u2", time.Now().Add(time.Hour))))
	a.Clear()
	assert.Equal(t, "", <-ch, "only the latest identity is kept")
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "token")

	a := NewTokenAuthenticator()
	require.NoError(t, a.LoadFile(path), "missing file is not an error")

	require.NoError(t, SaveFile(path, token(t, "u7", time.Now().Add(time.Hour))), "missing directories are created")
	require.NoError(t, a.LoadFile(path))

	id, ok := a.CurrentIdentity()
	assert.True(t, ok)
	assert.Equal(t, "u7", id)
}

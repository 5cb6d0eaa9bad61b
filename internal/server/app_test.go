package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/auth"
	"github.com/dmitrijs2005/notesync/internal/server/config"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
)

func memoryConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.Storage = config.StorageMemory
	c.EndpointAddrGRPC = "127.0.0.1:0"
	return c
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, memoryConfig(), logging.NewNopLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_RunFailsOnBadAddress(t *testing.T) {
	c := memoryConfig()
	c.EndpointAddrGRPC = "127.0.0.1:99999"

	app, err := NewApp(context.Background(), c, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Error(t, app.Run(context.Background()))
}

func TestNewApp_PostgresError(t *testing.T) {
	orig := openPostgres
	openPostgres = func(context.Context, string) (repomanager.Storage, error) {
		return nil, errors.New("connection refused")
	}
	defer func() { openPostgres = orig }()

	c := memoryConfig()
	c.Storage = config.StoragePostgres
	_, err := NewApp(context.Background(), c, logging.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIssueToken(t *testing.T) {
	c := memoryConfig()

	token, err := IssueToken(c, "u42")
	require.NoError(t, err)
	userID, err := auth.GetUserIDFromToken(token, []byte(c.SecretKey))
	require.NoError(t, err)
	assert.Equal(t, "u42", userID)

	_, err = IssueToken(c, "")
	assert.Error(t, err)
}

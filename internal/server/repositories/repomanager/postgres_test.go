package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/documents"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m := NewPostgresRepositoryManager()
	if d := m.Documents(db); d == nil {
		t.Fatal("Documents() nil")
	}
	var _ documents.Repository = m.Documents(db)
}

func TestRunMigrations_Success(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		if len(opts) != 0 {
			return errors.New("unexpected opts")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	m := &PostgresRepositoryManager{}
	if err := m.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m := &PostgresRepositoryManager{}
	if err := m.RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestPostgresStorage_WithinTx(t *testing.T) {
	db, mock := newDB(t)
	s := NewPostgresStorage(db, NewPostgresRepositoryManager())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE user_versions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectClose()

	err := s.WithinTx(context.Background(), func(ctx context.Context, repo documents.Repository) error {
		return repo.SetVersion(ctx, "u1", 2)
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(context.Background(), func(context.Context, documents.Repository) error { return boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, repo documents.Repository) error {
		return repo.Put(ctx, "u1", models.Entity{ID: "a", ServerVersion: 1})
	})
	require.NoError(t, err)

	e, err := s.Documents().Get(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", e.ID)
	assert.NoError(t, s.Close())
}

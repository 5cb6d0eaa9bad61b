package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/documents"
)

// RepositoryManager vends repositories bound to a DBTX and migrates the schema.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Documents(db dbx.DBTX) documents.Repository
}

// Storage is what the document service runs on: plain reads plus a unit
// of work in which one user's push is applied atomically.
type Storage interface {
	Documents() documents.Repository
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo documents.Repository) error) error
	Close() error
}

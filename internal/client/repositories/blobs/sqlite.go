package blobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/models"
)

const blobColumns = `local_key, owner_entity_id, field, payload_ref, state, remote_key, attempts, last_error, updated_at`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, b models.PendingBlob) error {
	if b.State == "" {
		b.State = models.UploadQueued
	}
	query := `INSERT INTO pending_blobs (` + blobColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_key) DO UPDATE SET owner_entity_id = excluded.owner_entity_id,
				field = excluded.field,
				payload_ref = excluded.payload_ref,
				state = excluded.state,
				remote_key = excluded.remote_key,
				attempts = excluded.attempts,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, b.LocalKey, b.OwnerEntityID, b.Field, b.PayloadRef,
		string(b.State), b.RemoteKey, b.Attempts, b.LastError, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert blob %s: %w", b.LocalKey, err)
	}
	return nil
}

func scanBlob(s dbx.Scanner) (models.PendingBlob, error) {
	var (
		b     models.PendingBlob
		state string
	)
	err := s.Scan(&b.LocalKey, &b.OwnerEntityID, &b.Field, &b.PayloadRef, &state,
		&b.RemoteKey, &b.Attempts, &b.LastError, &b.UpdatedAt)
	b.State = models.UploadState(state)
	return b, err
}

func (r *SQLiteRepository) Get(ctx context.Context, localKey string) (models.PendingBlob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM pending_blobs WHERE local_key = ?`, localKey)
	b, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingBlob{}, common.ErrorNotFound
	}
	if err != nil {
		return models.PendingBlob{}, fmt.Errorf("failed to get blob %s: %w", localKey, err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListByState(ctx context.Context, states ...models.UploadState) ([]models.PendingBlob, error) {
	query := `SELECT ` + blobColumns + ` FROM pending_blobs`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		query += ` WHERE state IN (?` + strings.Repeat(`, ?`, len(states)-1) + `)`
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY updated_at, local_key`

	var out []models.PendingBlob
	for b, err := range dbx.QuerySeq(ctx, r.db, scanBlob, query, args...) {
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, localKey string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_blobs WHERE local_key = ?`, localKey); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", localKey, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_blobs`); err != nil {
		return fmt.Errorf("failed to clear blobs: %w", err)
	}
	return nil
}

package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/models"
)

const entityColumns = `id, kind, parent_id, parent_ts, fields, server_version, deleted, deleted_at, created_at, updated_at`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Put(ctx context.Context, e models.Entity) error {
	if e.Fields == nil {
		e.Fields = map[string]models.Field{}
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields of %s: %w", e.ID, err)
	}

	query := `INSERT INTO entities (` + entityColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET kind = excluded.kind,
				parent_id = excluded.parent_id,
				parent_ts = excluded.parent_ts,
				fields = excluded.fields,
				server_version = excluded.server_version,
				deleted = excluded.deleted,
				deleted_at = excluded.deleted_at,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, string(e.Kind), e.ParentID, e.ParentTS, string(fields), e.ServerVersion,
		e.Deleted, e.DeletedAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func scanEntity(s dbx.Scanner) (models.Entity, error) {
	var (
		e      models.Entity
		kind   string
		fields string
	)
	err := s.Scan(&e.ID, &kind, &e.ParentID, &e.ParentTS, &fields, &e.ServerVersion,
		&e.Deleted, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return models.Entity{}, err
	}
	e.Kind = models.EntityKind(kind)
	if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
		return models.Entity{}, fmt.Errorf("failed to decode fields of %s: %w", e.ID, err)
	}
	if e.Fields == nil {
		e.Fields = map[string]models.Field{}
	}
	return e, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (models.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, common.ErrorNotFound
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("query row scan failed: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) List(ctx context.Context, opts ListOptions) iter.Seq2[models.Entity, error] {
	var (
		where []string
		args  []any
	)
	if !opts.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if opts.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, opts.ParentID)
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}

	query := `SELECT ` + entityColumns + ` FROM entities`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	switch opts.Order {
	case UpdatedAsc:
		query += ` ORDER BY updated_at ASC, id ASC`
	case CreatedAsc:
		query += ` ORDER BY created_at ASC, id ASC`
	default:
		query += ` ORDER BY updated_at DESC, id ASC`
	}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	return dbx.QuerySeq(ctx, r.db, scanEntity, query, args...)
}

func (r *SQLiteRepository) MarkDeleted(ctx context.Context, id string, ts int64) error {
	query := `UPDATE entities SET deleted = 1, deleted_at = ?, updated_at = MAX(updated_at, ?) WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Purge(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to purge entity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("failed to clear entities: %w", err)
	}
	return nil
}

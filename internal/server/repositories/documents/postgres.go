package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/models"
)

const documentColumns = `id, kind, parent_id, parent_ts, fields, version, deleted, deleted_at, created_at, updated_at`

// PostgresRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository returns a new PostgresRepository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanDocument(s dbx.Scanner) (models.Entity, error) {
	var (
		e      models.Entity
		kind   string
		fields []byte
	)
	err := s.Scan(&e.ID, &kind, &e.ParentID, &e.ParentTS, &fields, &e.ServerVersion,
		&e.Deleted, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return models.Entity{}, err
	}
	e.Kind = models.EntityKind(kind)
	if err := json.Unmarshal(fields, &e.Fields); err != nil {
		return models.Entity{}, fmt.Errorf("decode fields of %s: %w", e.ID, err)
	}
	if e.Fields == nil {
		e.Fields = map[string]models.Field{}
	}
	return e, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, id string) (models.Entity, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND id = $2`

	e, err := scanDocument(r.db.QueryRowContext(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entity{}, common.ErrorNotFound
		}
		return models.Entity{}, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) GetMany(ctx context.Context, userID string, ids []string) ([]models.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	marks := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		marks[i] = "$" + strconv.Itoa(i+2)
	}
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE user_id = $1 AND id IN (` + strings.Join(marks, ", ") + `)`

	return r.collect(ctx, query, args...)
}

func (r *PostgresRepository) Put(ctx context.Context, userID string, e models.Entity) error {
	if e.Fields == nil {
		e.Fields = map[string]models.Field{}
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("encode fields of %s: %w", e.ID, err)
	}

	query := `INSERT INTO documents (user_id, ` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, id) DO UPDATE SET kind = EXCLUDED.kind,
			parent_id = EXCLUDED.parent_id,
			parent_ts = EXCLUDED.parent_ts,
			fields = EXCLUDED.fields,
			version = EXCLUDED.version,
			deleted = EXCLUDED.deleted,
			deleted_at = EXCLUDED.deleted_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at;`

	_, err = r.db.ExecContext(ctx, query, userID,
		e.ID, string(e.Kind), e.ParentID, e.ParentTS, string(fields), e.ServerVersion,
		e.Deleted, e.DeletedAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SelectUpdated(ctx context.Context, userID string, since int64) ([]models.Entity, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE user_id = $1 AND version > $2 ORDER BY version`
	return r.collect(ctx, query, userID, since)
}

func (r *PostgresRepository) collect(ctx context.Context, query string, args ...any) ([]models.Entity, error) {
	var out []models.Entity
	for e, err := range dbx.QuerySeq(ctx, r.db, scanDocument, query, args...) {
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *PostgresRepository) LockVersion(ctx context.Context, userID string) (int64, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_versions (user_id, version) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	var v int64
	err = r.db.QueryRowContext(ctx,
		`SELECT version FROM user_versions WHERE user_id = $1 FOR UPDATE`, userID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) SetVersion(ctx context.Context, userID string, version int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_versions SET version = $2 WHERE user_id = $1`, userID, version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CurrentVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM user_versions WHERE user_id = $1`, userID).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) IsApplied(ctx context.Context, userID, deviceID string, seq int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_mutations WHERE user_id = $1 AND device_id = $2 AND seq = $3)`,
		userID, deviceID, seq).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) MarkApplied(ctx context.Context, userID, deviceID string, seq int64, entityID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO applied_mutations (user_id, device_id, seq, entity_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, device_id, seq) DO NOTHING`,
		userID, deviceID, seq, entityID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

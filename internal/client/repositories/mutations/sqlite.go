package mutations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/models"
)

const recordColumns = `seq, entity_id, op, kind, parent_id, deltas, client_ts, depends_on, attempts, last_error`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec models.MutationRecord) error {
	deltas, err := encodeDeltas(rec.Deltas)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO mutations (`+recordColumns+`, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Seq, rec.EntityID, string(rec.Op), string(rec.Kind), rec.ParentID, deltas,
		rec.ClientTS, rec.DependsOn, rec.Attempts, rec.LastError, StatePending)
	if err != nil {
		return fmt.Errorf("failed to insert mutation %d: %w", rec.Seq, err)
	}
	return nil
}

func encodeDeltas(d map[string]models.Field) (string, error) {
	if d == nil {
		d = map[string]models.Field{}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode deltas: %w", err)
	}
	return string(b), nil
}

func scanRecord(s dbx.Scanner, extra ...any) (models.MutationRecord, error) {
	var (
		rec    models.MutationRecord
		op     string
		kind   string
		deltas string
	)
	dest := append([]any{&rec.Seq, &rec.EntityID, &op, &kind, &rec.ParentID, &deltas,
		&rec.ClientTS, &rec.DependsOn, &rec.Attempts, &rec.LastError}, extra...)
	if err := s.Scan(dest...); err != nil {
		return models.MutationRecord{}, err
	}
	rec.Op = models.MutationOp(op)
	rec.Kind = models.EntityKind(kind)
	if err := json.Unmarshal([]byte(deltas), &rec.Deltas); err != nil {
		return models.MutationRecord{}, fmt.Errorf("failed to decode deltas of %d: %w", rec.Seq, err)
	}
	if len(rec.Deltas) == 0 {
		rec.Deltas = nil
	}
	return rec, nil
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, query string, args ...any) ([]models.MutationRecord, error) {
	var out []models.MutationRecord
	scan := func(s dbx.Scanner) (models.MutationRecord, error) { return scanRecord(s) }
	for rec, err := range dbx.QuerySeq(ctx, r.db, scan, query, args...) {
		if err != nil {
			return nil, fmt.Errorf("failed to select mutations: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *SQLiteRepository) Pending(ctx context.Context, upTo int64) ([]Queued, error) {
	query := `SELECT ` + recordColumns + `,
			EXISTS (SELECT 1 FROM mutations d
				WHERE m.depends_on > 0 AND d.seq = m.depends_on AND d.state = ?) AS blocked
		FROM mutations m
		WHERE m.state = ? AND (? = 0 OR m.seq <= ?)
		ORDER BY m.seq`

	scan := func(s dbx.Scanner) (Queued, error) {
		var q Queued
		rec, err := scanRecord(s, &q.Blocked)
		q.MutationRecord = rec
		return q, err
	}

	var out []Queued
	for q, err := range dbx.QuerySeq(ctx, r.db, scan, query, StatePending, StatePending, upTo, upTo) {
		if err != nil {
			return nil, fmt.Errorf("failed to select pending mutations: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *SQLiteRepository) PendingFor(ctx context.Context, entityID string) ([]models.MutationRecord, error) {
	return r.queryRecords(ctx, `SELECT `+recordColumns+` FROM mutations
		WHERE entity_id = ? AND state = ? ORDER BY seq`, entityID, StatePending)
}

func (r *SQLiteRepository) Get(ctx context.Context, seq int64) (models.MutationRecord, string, error) {
	var state string
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+`, state FROM mutations WHERE seq = ?`, seq)
	rec, err := scanRecord(row, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MutationRecord{}, "", common.ErrorNotFound
	}
	if err != nil {
		return models.MutationRecord{}, "", fmt.Errorf("failed to get mutation %d: %w", seq, err)
	}
	return rec, state, nil
}

func (r *SQLiteRepository) HasEarlier(ctx context.Context, entityID string, seq int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM mutations
		WHERE entity_id = ? AND seq < ? AND state = ?)`, entityID, seq, StatePending).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check earlier mutations: %w", err)
	}
	return ok, nil
}

func (r *SQLiteRepository) CreateOf(ctx context.Context, entityID string) (int64, string, error) {
	var (
		seq   int64
		state string
	)
	err := r.db.QueryRowContext(ctx, `SELECT seq, state FROM mutations
		WHERE entity_id = ? AND op = ? ORDER BY seq LIMIT 1`, entityID, string(models.OpCreate)).Scan(&seq, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to look up create of %s: %w", entityID, err)
	}
	return seq, state, nil
}

func (r *SQLiteRepository) Dependents(ctx context.Context, seq int64) ([]int64, error) {
	scan := func(s dbx.Scanner) (int64, error) {
		var v int64
		err := s.Scan(&v)
		return v, err
	}
	var out []int64
	for v, err := range dbx.QuerySeq(ctx, r.db, scan, `SELECT seq FROM mutations
		WHERE depends_on = ? AND state = ? ORDER BY seq`, seq, StatePending) {
		if err != nil {
			return nil, fmt.Errorf("failed to select dependents: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, seq int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mutations WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to delete mutation %d: %w", seq, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteForEntity(ctx context.Context, entityID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mutations WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("failed to delete mutations of %s: %w", entityID, err)
	}
	return nil
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, seq int64, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE mutations SET attempts = attempts + 1, last_error = ?
		WHERE seq = ?`, lastErr, seq)
	if err != nil {
		return fmt.Errorf("failed to record failure of %d: %w", seq, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkDead(ctx context.Context, seq int64, reason string, diedAt int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mutations SET state = ?, reason = ?, died_at = ?
		WHERE seq = ?`, StateDead, reason, diedAt, seq)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d dead: %w", seq, err)
	}
	if ra, err := res.RowsAffected(); err == nil && ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Revive(ctx context.Context, seq int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mutations SET state = ?, reason = '', died_at = 0,
		attempts = 0, last_error = '' WHERE seq = ? AND state = ?`, StatePending, seq, StateDead)
	if err != nil {
		return fmt.Errorf("failed to revive mutation %d: %w", seq, err)
	}
	if ra, err := res.RowsAffected(); err == nil && ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) selectWithState(ctx context.Context, where string, args ...any) ([]models.DeadMutation, error) {
	scan := func(s dbx.Scanner) (models.DeadMutation, error) {
		var d models.DeadMutation
		rec, err := scanRecord(s, &d.Reason, &d.DiedAt)
		d.MutationRecord = rec
		return d, err
	}
	var out []models.DeadMutation
	query := `SELECT ` + recordColumns + `, reason, died_at FROM mutations ` + where + ` ORDER BY seq`
	for d, err := range dbx.QuerySeq(ctx, r.db, scan, query, args...) {
		if err != nil {
			return nil, fmt.Errorf("failed to select mutations: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *SQLiteRepository) Dead(ctx context.Context) ([]models.DeadMutation, error) {
	return r.selectWithState(ctx, `WHERE state = ?`, StateDead)
}

func (r *SQLiteRepository) All(ctx context.Context) ([]models.DeadMutation, error) {
	return r.selectWithState(ctx, ``)
}

func (r *SQLiteRepository) Count(ctx context.Context, state string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations WHERE state = ?`, state).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mutations`); err != nil {
		return fmt.Errorf("failed to clear mutations: %w", err)
	}
	return nil
}

// Package store is the durable on-device copy of a user's entities and the
// outgoing mutation log.
//
// All data lives in one SQLite file opened in WAL mode with
// synchronous=FULL, so a write that returned has reached the disk. Writes
// that touch an entity and the queue commit in a single transaction
// (ApplyEdit). Committed entity ids are fanned out to Subscriptions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/notesync/internal/client/migrations"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/blobs"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/mutations"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"

	_ "modernc.org/sqlite"
)

const lockStripes = 64

// ListOptions re-exports the entity filter so callers need not import the
// repository package.
type ListOptions = entities.ListOptions

const (
	OrderUpdatedDesc = entities.UpdatedDesc
	OrderUpdatedAsc  = entities.UpdatedAsc
	OrderCreatedAsc  = entities.CreatedAsc
)

// Repos bundles the repositories bound to one handle (the database or an
// open transaction).
type Repos struct {
	Entities  entities.Repository
	Mutations mutations.Repository
	Blobs     blobs.Repository
	Metadata  metadata.Repository
}

func reposFor(db dbx.DBTX) Repos {
	return Repos{
		Entities:  entities.NewSQLiteRepository(db),
		Mutations: mutations.NewSQLiteRepository(db),
		Blobs:     blobs.NewSQLiteRepository(db),
		Metadata:  metadata.NewSQLiteRepository(db),
	}
}

type Store struct {
	path   string
	logger logging.Logger

	dbMu sync.RWMutex
	db   *sql.DB

	locks   [lockStripes]sync.Mutex
	full    atomic.Bool
	corrupt atomic.Bool
	changes hub
}

// migrateMu serialises goose, whose configuration is package global.
var migrateMu sync.Mutex

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// DSN builds the connection string for a database file.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	return db, nil
}

// Open opens (creating if needed) the store at path and makes sure a
// device id exists. A file that turns out to be corrupt still yields a
// Store: it reports Corrupted and every operation fails with
// ErrStorageCorrupt until Recreate runs.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	logger = logger.Module("store")

	db, err := openDB(ctx, path)
	if errors.Is(err, ErrStorageCorrupt) {
		raw, oerr := sql.Open("sqlite", DSN(path))
		if oerr != nil {
			return nil, fmt.Errorf("open store %s: %w", path, oerr)
		}
		s := &Store{path: path, db: raw, logger: logger}
		s.corrupt.Store(true)
		logger.Error(ctx, "store is corrupt, waiting for rebuild", "path", path, "error", err)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	s := &Store{path: path, db: db, logger: logger}
	if _, err := s.DeviceID(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) handle() *sql.DB {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()
	return s.db
}

func (s *Store) Close() error {
	return s.handle().Close()
}

// check classifies err and latches the full/corrupt conditions.
func (s *Store) check(ctx context.Context, err error) error {
	err = classify(err)
	switch {
	case errors.Is(err, ErrStorageFull):
		if !s.full.Swap(true) {
			s.logger.Error(ctx, "storage full, local writes suspended", "error", err)
		}
	case errors.Is(err, ErrStorageCorrupt):
		if !s.corrupt.Swap(true) {
			s.logger.Error(ctx, "storage corrupt", "error", err)
		}
	}
	return err
}

// Full reports whether writes are suspended.
func (s *Store) Full() bool {
	return s.full.Load()
}

// Corrupted reports whether an operation has seen corruption since the
// last rebuild.
func (s *Store) Corrupted() bool {
	return s.corrupt.Load()
}

// View runs fn against repositories bound to the database (no transaction).
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return s.check(ctx, fn(ctx, reposFor(s.handle())))
}

// Update runs fn inside a write transaction. It refuses to start while the
// storage-full latch is set.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	if s.full.Load() {
		return ErrStorageFull
	}
	err := dbx.WithTx(ctx, s.handle(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, reposFor(tx))
	})
	return s.check(ctx, err)
}

// ResumeWrites probes the disk with a real write and clears the
// storage-full latch when it succeeds.
func (s *Store) ResumeWrites(ctx context.Context) error {
	err := dbx.WithTx(ctx, s.handle(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		m := metadata.NewSQLiteRepository(tx)
		if err := m.Set(ctx, "write_probe", []byte(uuid.NewString())); err != nil {
			return err
		}
		return m.Delete(ctx, "write_probe")
	})
	if err = s.check(ctx, err); err != nil {
		return err
	}
	if s.full.Swap(false) {
		s.logger.Info(ctx, "storage writes resumed")
	}
	return nil
}

// Lock takes the per-entity lock that guards read-modify-write cycles.
// Callers must not hold two entity locks at once.
func (s *Store) Lock(id string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// Changes subscribes to committed entity ids.
func (s *Store) Changes() *Subscription {
	return s.changes.subscribe()
}

// Notify announces entities committed through Update.
func (s *Store) Notify(ids ...string) {
	s.changes.publish(ids)
}

func (s *Store) Get(ctx context.Context, id string) (models.Entity, error) {
	e, err := entities.NewSQLiteRepository(s.handle()).Get(ctx, id)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return models.Entity{}, s.check(ctx, err)
	}
	return e, err
}

// List streams entities lazily; it observes every write committed before
// the iteration starts.
func (s *Store) List(ctx context.Context, opts ListOptions) iter.Seq2[models.Entity, error] {
	return func(yield func(models.Entity, error) bool) {
		for e, err := range entities.NewSQLiteRepository(s.handle()).List(ctx, opts) {
			if err != nil {
				yield(models.Entity{}, s.check(ctx, err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *Store) Put(ctx context.Context, e models.Entity) error {
	err := s.Update(ctx, func(ctx context.Context, r Repos) error {
		return r.Entities.Put(ctx, e)
	})
	if err == nil {
		s.Notify(e.ID)
	}
	return err
}

func (s *Store) MarkDeleted(ctx context.Context, id string, ts int64) error {
	err := s.Update(ctx, func(ctx context.Context, r Repos) error {
		return r.Entities.MarkDeleted(ctx, id, ts)
	})
	if err == nil {
		s.Notify(id)
	}
	return err
}

// Purge removes an entity row (used once a tombstone is acknowledged).
func (s *Store) Purge(ctx context.Context, id string) error {
	err := s.Update(ctx, func(ctx context.Context, r Repos) error {
		return r.Entities.Purge(ctx, id)
	})
	if err == nil {
		s.Notify(id)
	}
	return err
}

// NextSequence allocates the next mutation seq from the durable counter.
func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.Update(ctx, func(ctx context.Context, r Repos) error {
		var err error
		seq, err = r.Metadata.Next(ctx, metadata.KeyNextSeq)
		return err
	})
	return seq, err
}

// AppendMutation stores rec, allocating its seq when zero.
func (s *Store) AppendMutation(ctx context.Context, rec models.MutationRecord) (models.MutationRecord, error) {
	err := s.Update(ctx, func(ctx context.Context, r Repos) error {
		var err error
		rec, err = AppendIn(ctx, r, rec)
		return err
	})
	return rec, err
}

// ParentRejected prefixes the reason of records killed by their parent.
const ParentRejected = "parent create rejected"

// AppendIn is AppendMutation inside an existing transaction. A create
// whose parent still has an unacknowledged create depends on it. If that
// create is already dead the new record goes straight to the dead list, so
// retrying the parent brings it back.
func AppendIn(ctx context.Context, r Repos, rec models.MutationRecord) (models.MutationRecord, error) {
	if rec.Seq == 0 {
		seq, err := r.Metadata.Next(ctx, metadata.KeyNextSeq)
		if err != nil {
			return rec, err
		}
		rec.Seq = seq
	}
	parentDead := false
	if rec.Op == models.OpCreate && rec.ParentID != "" && rec.DependsOn == 0 {
		dep, state, err := r.Mutations.CreateOf(ctx, rec.ParentID)
		if err != nil {
			return rec, err
		}
		rec.DependsOn = dep
		parentDead = state == mutations.StateDead
	}
	if err := r.Mutations.Insert(ctx, rec); err != nil {
		return rec, err
	}
	if parentDead {
		reason := fmt.Sprintf("%s: seq %d", ParentRejected, rec.DependsOn)
		if err := r.Mutations.MarkDead(ctx, rec.Seq, reason, time.Now().UnixNano()); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// ApplyEdit writes the entity and appends its mutation atomically. The
// returned record carries the allocated seq.
func (s *Store) ApplyEdit(ctx context.Context, e models.Entity, rec models.MutationRecord) (models.MutationRecord, error) {
	err := s.Update(ctx, func(ctx context.Context, r Repos) error {
		if err := r.Entities.Put(ctx, e); err != nil {
			return err
		}
		var err error
		rec, err = AppendIn(ctx, r, rec)
		return err
	})
	if err != nil {
		return rec, err
	}
	s.Notify(e.ID)
	return rec, nil
}

func (s *Store) Cursor(ctx context.Context) (int64, error) {
	var c int64
	err := s.View(ctx, func(ctx context.Context, r Repos) error {
		var err error
		c, err = r.Metadata.GetInt(ctx, metadata.KeySyncCursor)
		return err
	})
	return c, err
}

func (s *Store) SetCursor(ctx context.Context, cursor int64) error {
	return s.Update(ctx, func(ctx context.Context, r Repos) error {
		return r.Metadata.SetInt(ctx, metadata.KeySyncCursor, cursor)
	})
}

// DeviceID returns the id this device pushes under, creating it on first
// use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.Update(ctx, func(ctx context.Context, r Repos) error {
		v, err := r.Metadata.Get(ctx, metadata.KeyDeviceID)
		if err != nil {
			return err
		}
		if v != nil {
			id = string(v)
			return nil
		}
		id = uuid.NewString()
		return r.Metadata.Set(ctx, metadata.KeyDeviceID, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("device id: %w", err)
	}
	return id, nil
}

// CheckIntegrity runs SQLite's quick check.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	var res string
	if err := s.handle().QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&res); err != nil {
		return s.check(ctx, err)
	}
	if res != "ok" {
		return s.check(ctx, fmt.Errorf("%w: quick_check: %s", ErrStorageCorrupt, res))
	}
	return nil
}

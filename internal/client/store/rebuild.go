package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/models"
)

// Salvage is whatever could still be read from a corrupt store: the
// unsynced mutation log (pending and dead), pending blobs and the device
// identity.
type Salvage struct {
	DeviceID  string
	NextSeq   int64
	Mutations []models.DeadMutation
	Blobs     []models.PendingBlob
}

// Recreate reads what it can from the current file, moves the file aside
// (suffix ".corrupt") and opens a fresh database with the same device id
// and sequence counter. The entity table and the cursor start empty; the
// caller repopulates them from the remote.
func (s *Store) Recreate(ctx context.Context) (Salvage, error) {
	sv := s.salvage(ctx)

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	_ = s.db.Close()
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(s.path+suffix, s.path+".corrupt"+suffix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return sv, fmt.Errorf("move corrupt store aside: %w", err)
		}
	}

	db, err := openDB(ctx, s.path)
	if err != nil {
		return sv, fmt.Errorf("recreate store: %w", err)
	}

	if sv.DeviceID == "" {
		sv.DeviceID = uuid.NewString()
	}
	m := metadata.NewSQLiteRepository(db)
	if err := m.Set(ctx, metadata.KeyDeviceID, []byte(sv.DeviceID)); err != nil {
		_ = db.Close()
		return sv, classify(err)
	}
	if err := m.SetInt(ctx, metadata.KeyNextSeq, sv.NextSeq); err != nil {
		_ = db.Close()
		return sv, classify(err)
	}

	s.db = db
	s.corrupt.Store(false)
	s.full.Store(false)
	s.logger.Warn(ctx, "store recreated",
		"salvaged_mutations", len(sv.Mutations), "salvaged_blobs", len(sv.Blobs))
	return sv, nil
}

func (s *Store) salvage(ctx context.Context) Salvage {
	var sv Salvage
	r := reposFor(s.handle())

	if v, err := r.Metadata.Get(ctx, metadata.KeyDeviceID); err == nil && v != nil {
		sv.DeviceID = string(v)
	}
	if n, err := r.Metadata.GetInt(ctx, metadata.KeyNextSeq); err == nil {
		sv.NextSeq = n
	}
	if all, err := r.Mutations.All(ctx); err == nil {
		sv.Mutations = all
	} else {
		s.logger.Error(ctx, "mutation log unreadable during salvage", "error", err)
	}
	if bl, err := r.Blobs.ListByState(ctx); err == nil {
		sv.Blobs = bl
	} else {
		s.logger.Warn(ctx, "pending blobs unreadable during salvage", "error", err)
	}

	for _, m := range sv.Mutations {
		sv.NextSeq = max(sv.NextSeq, m.Seq)
	}
	return sv
}

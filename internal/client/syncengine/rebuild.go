package syncengine

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/resolver"
)

// rebuild replaces a corrupt store with the remote's copy. The full pull
// happens before the file is moved aside so a network failure leaves the
// salvageable state where it was. Unsynced records read from the old file
// are queued again with their original seqs and replayed on top.
func (e *Engine) rebuild(ctx context.Context) error {
	e.logger.Warn(ctx, "local store corrupt, rebuilding from remote")

	cctx, cancel := e.callCtx(ctx)
	remotes, cursor, err := e.remote.Pull(cctx, e.userPath, 0)
	cancel()
	if err != nil {
		return fmt.Errorf("full pull: %w", err)
	}

	sv, err := e.store.Recreate(ctx)
	if err != nil {
		return err
	}

	rebuilt := map[string]models.Entity{}
	for _, ent := range resolver.Rebuild(remotes) {
		rebuilt[ent.ID] = ent
	}

	var replayed []string
	for _, m := range sv.Mutations {
		if m.DiedAt != 0 {
			continue
		}
		var cur *models.Entity
		if ent, ok := rebuilt[m.EntityID]; ok {
			cur = &ent
		} else {
			replayed = append(replayed, m.EntityID)
		}
		rebuilt[m.EntityID] = resolver.Apply(cur, m.MutationRecord)
		e.clock.Observe(m.ClientTS)
	}

	err = e.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		for _, ent := range rebuilt {
			if err := r.Entities.Put(ctx, ent); err != nil {
				return err
			}
		}
		for _, m := range sv.Mutations {
			if _, err := store.AppendIn(ctx, r, m.MutationRecord); err != nil {
				return err
			}
			if m.DiedAt != 0 {
				if err := r.Mutations.MarkDead(ctx, m.Seq, m.Reason, m.DiedAt); err != nil {
					return err
				}
			}
		}
		for _, b := range sv.Blobs {
			if err := r.Blobs.Upsert(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.store.SetCursor(ctx, cursor); err != nil {
		return err
	}
	e.cursor.Store(cursor)

	ids := make([]string, 0, len(rebuilt))
	for id := range rebuilt {
		ids = append(ids, id)
	}
	e.store.Notify(ids...)

	e.logger.Info(ctx, "store rebuilt",
		"entities", len(rebuilt), "requeued", len(sv.Mutations), "local_only", len(replayed), "cursor", cursor)
	return nil
}

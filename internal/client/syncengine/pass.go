package syncengine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/queue"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/resolver"
	"github.com/dmitrijs2005/notesync/internal/rpc"
)

// ErrConflictLimit is returned when a record keeps conflicting after the
// configured number of resolve-and-retry rounds. It is transient.
var ErrConflictLimit = errors.New("version conflict retries exhausted")

func (e *Engine) pass(ctx context.Context) error {
	if err := e.auth.Check(ctx); err != nil {
		return wrapAuth(err)
	}
	e.setStateIn(ctx, Syncing)

	highWater, err := e.queue.HighWater(ctx)
	if err != nil && !errors.Is(err, store.ErrStorageCorrupt) {
		return err
	}

	if e.store.Corrupted() {
		if err := e.rebuild(ctx); err != nil {
			return fmt.Errorf("rebuild from remote: %w", err)
		}
		if highWater, err = e.queue.HighWater(ctx); err != nil {
			return err
		}
	}

	if e.deviceID == "" {
		if e.deviceID, err = e.store.DeviceID(ctx); err != nil {
			return err
		}
	}

	if err := e.pull(ctx); err != nil {
		return err
	}
	return e.drain(ctx, highWater)
}

// pull fetches everything past the cursor and merges it.
func (e *Engine) pull(ctx context.Context) error {
	cursor, err := e.store.Cursor(ctx)
	if err != nil {
		return err
	}

	cctx, cancel := e.callCtx(ctx)
	remotes, next, err := e.remote.Pull(cctx, e.userPath, cursor)
	cancel()
	if err != nil {
		return fmt.Errorf("pull since %d: %w", cursor, err)
	}

	for _, r := range remotes {
		if err := e.merge(ctx, r); err != nil {
			return err
		}
	}

	if next > cursor {
		if err := e.store.SetCursor(ctx, next); err != nil {
			return err
		}
		e.cursor.Store(next)
	}
	e.logger.Debug(ctx, "pulled", "entities", len(remotes), "cursor", next)
	return nil
}

// merge folds one remote copy into the local entity and drops the pending
// records it satisfies.
func (e *Engine) merge(ctx context.Context, remote models.Entity) error {
	return e.reconcile(ctx, remote, 0)
}

// reconcile merges remote and, when ackSeq is set, acknowledges that
// record in the same transaction. An acknowledged tombstone with nothing
// left pending is purged.
func (e *Engine) reconcile(ctx context.Context, remote models.Entity, ackSeq int64) error {
	unlock := e.store.Lock(remote.ID)
	defer unlock()

	var local *models.Entity
	cur, err := e.store.Get(ctx, remote.ID)
	switch {
	case err == nil:
		local = &cur
	case errors.Is(err, common.ErrorNotFound):
	default:
		return err
	}

	pending, err := e.queue.PendingFor(ctx, remote.ID)
	if err != nil {
		return err
	}

	res := resolver.Resolve(local, remote, pending)
	e.clock.Observe(res.Entity.UpdatedAt)

	err = e.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		if ackSeq != 0 {
			if err := queue.AcknowledgeIn(ctx, r, ackSeq); err != nil {
				return err
			}
		}
		drop := make([]int64, 0, len(res.Satisfied))
		for _, seq := range res.Satisfied {
			if seq != ackSeq {
				drop = append(drop, seq)
			}
		}
		if err := queue.DropIn(ctx, r, drop...); err != nil {
			return err
		}

		if res.Entity.Deleted {
			left, err := r.Mutations.PendingFor(ctx, remote.ID)
			if err != nil {
				return err
			}
			if len(left) == 0 {
				return r.Entities.Purge(ctx, remote.ID)
			}
		}
		return r.Entities.Put(ctx, res.Entity)
	})
	if err != nil {
		return fmt.Errorf("merge %s: %w", remote.ID, err)
	}
	e.store.Notify(remote.ID)
	return nil
}

// drain pushes queued records up to highWater in bounded batches. Records
// of different entities go out concurrently, records of one entity in
// order.
func (e *Engine) drain(ctx context.Context, highWater int64) error {
	seen := map[int64]bool{}

	for {
		batch, err := e.queue.PeekBatch(ctx, e.cfg.BatchSize, highWater)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		var order []string
		groups := map[string][]models.MutationRecord{}
		for _, rec := range batch {
			if seen[rec.Seq] {
				return fmt.Errorf("mutation %d was not drained", rec.Seq)
			}
			seen[rec.Seq] = true
			if _, ok := groups[rec.EntityID]; !ok {
				order = append(order, rec.EntityID)
			}
			groups[rec.EntityID] = append(groups[rec.EntityID], rec)
		}

		// A failing group does not cancel its siblings.
		var g errgroup.Group
		g.SetLimit(e.cfg.Concurrency)
		for _, id := range order {
			recs := groups[id]
			g.Go(func() error {
				for _, rec := range recs {
					if err := e.push(ctx, rec); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// push transmits one record, resolving version conflicts before retrying.
func (e *Engine) push(ctx context.Context, rec models.MutationRecord) error {
	for attempt := 0; ; attempt++ {
		still, err := e.stillQueued(ctx, rec)
		if err != nil || !still {
			return err
		}

		base, err := e.baseVersion(ctx, rec.EntityID)
		if err != nil {
			return err
		}

		cctx, cancel := e.callCtx(ctx)
		res, err := e.remote.Push(cctx, e.userPath, e.deviceID, rec, base)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, client.ErrPermissionDenied), errors.Is(err, client.ErrRejected):
			return e.queue.MarkDead(ctx, rec.Seq, err.Error())
		case errors.Is(err, client.ErrUnauthorized):
			return err
		default:
			if qerr := e.queue.RequeueFailed(ctx, rec.Seq, err); qerr != nil {
				e.logger.Error(ctx, "record failure not saved", "seq", rec.Seq, "error", qerr)
			}
			return fmt.Errorf("push %d: %w", rec.Seq, err)
		}

		switch res.Status {
		case rpc.PushAck:
			e.logger.Debug(ctx, "acknowledged", "seq", rec.Seq, "entity", rec.EntityID, "version", res.Entity.ServerVersion)
			return e.reconcile(ctx, *res.Entity, rec.Seq)

		case rpc.PushRejected:
			return e.queue.MarkDead(ctx, rec.Seq, res.Reason)

		case rpc.PushConflict:
			if attempt >= e.cfg.ConflictRetries {
				err := fmt.Errorf("%w: seq %d", ErrConflictLimit, rec.Seq)
				_ = e.queue.RequeueFailed(ctx, rec.Seq, err)
				return err
			}
			e.logger.Debug(ctx, "version conflict", "seq", rec.Seq, "entity", rec.EntityID, "remote_version", res.Entity.ServerVersion)
			if err := e.merge(ctx, *res.Entity); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) stillQueued(ctx context.Context, rec models.MutationRecord) (bool, error) {
	pending, err := e.queue.PendingFor(ctx, rec.EntityID)
	if err != nil {
		return false, err
	}
	for _, p := range pending {
		if p.Seq == rec.Seq {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) baseVersion(ctx context.Context, id string) (int64, error) {
	ent, err := e.store.Get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ent.ServerVersion, nil
}

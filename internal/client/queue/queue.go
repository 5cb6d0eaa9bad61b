// Package queue is the ordered, durable log of local mutations waiting for
// the remote. It sits on the store's mutations table so enqueueing can share
// a transaction with the entity write.
//
// Ordering rules:
//   - records of one entity replay in seq order; a batch never contains a
//     record while an earlier record of the same entity is held back;
//   - a create whose parent's create is still queued carries DependsOn and
//     stays out of batches until that create is acknowledged;
//   - a dependency that goes dead takes its dependents with it, and a
//     create enqueued under an already dead parent create is dead on
//     arrival; retrying the parent revives both;
//   - a dead record leaves the order: later records of its entity keep
//     flowing and a retried record replays after them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/mutations"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
)

var (
	// ErrOutOfOrder rejects acknowledging a record while an earlier record
	// of the same entity is still queued.
	ErrOutOfOrder = errors.New("acknowledge out of order")

	// ErrNotDead is returned by RetryDead/DiscardDead for live records.
	ErrNotDead = errors.New("mutation is not in the dead list")
)

// ParentRejected prefixes the reason of records killed by their parent.
const ParentRejected = store.ParentRejected

type Queue struct {
	store  *store.Store
	logger logging.Logger
	notify chan struct{}
	now    func() time.Time
}

func New(s *store.Store, logger logging.Logger) *Queue {
	return &Queue{
		store:  s,
		logger: logger.Module("queue"),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Notify fires after new records were enqueued or revived.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Signal wakes Notify listeners; call it after enqueueing through
// store.ApplyEdit.
func (q *Queue) Signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue appends rec and returns it with its seq (and dependency) set.
func (q *Queue) Enqueue(ctx context.Context, rec models.MutationRecord) (models.MutationRecord, error) {
	rec, err := q.store.AppendMutation(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("enqueue %s %s: %w", rec.Op, rec.EntityID, err)
	}
	q.Signal()
	return rec, nil
}

// PeekBatch returns up to limit records with seq <= upTo (0 for no bound)
// that may be transmitted now, in seq order. Records stay queued.
func (q *Queue) PeekBatch(ctx context.Context, limit int, upTo int64) ([]models.MutationRecord, error) {
	var pending []mutations.Queued
	err := q.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		pending, err = r.Mutations.Pending(ctx, upTo)
		return err
	})
	if err != nil {
		return nil, err
	}

	held := map[string]bool{}
	var out []models.MutationRecord
	for _, p := range pending {
		if held[p.EntityID] {
			continue
		}
		if p.Blocked {
			held[p.EntityID] = true
			continue
		}
		out = append(out, p.MutationRecord)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Acknowledge removes a record the remote accepted.
func (q *Queue) Acknowledge(ctx context.Context, seq int64) error {
	return q.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		return AcknowledgeIn(ctx, r, seq)
	})
}

// AcknowledgeIn is Acknowledge inside an open transaction. Acknowledging
// an already removed seq is a no-op.
func AcknowledgeIn(ctx context.Context, r store.Repos, seq int64) error {
	rec, _, err := r.Mutations.Get(ctx, seq)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	earlier, err := r.Mutations.HasEarlier(ctx, rec.EntityID, seq)
	if err != nil {
		return err
	}
	if earlier {
		return fmt.Errorf("%w: seq %d of %s", ErrOutOfOrder, seq, rec.EntityID)
	}
	return r.Mutations.Delete(ctx, seq)
}

// DropIn removes records made redundant by a merge. Unlike
// AcknowledgeIn it does not require them to be first in line.
func DropIn(ctx context.Context, r store.Repos, seqs ...int64) error {
	for _, seq := range seqs {
		if err := r.Mutations.Delete(ctx, seq); err != nil {
			return err
		}
	}
	return nil
}

// RequeueFailed records a transient failure; the record keeps its place.
func (q *Queue) RequeueFailed(ctx context.Context, seq int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		return r.Mutations.RecordFailure(ctx, seq, msg)
	})
}

// MarkDead moves a record to the dead list together with every record
// that transitively depends on it.
func (q *Queue) MarkDead(ctx context.Context, seq int64, reason string) error {
	diedAt := q.now().UnixNano()
	var killed []int64
	err := q.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		killed, err = markDead(ctx, r, seq, reason, diedAt)
		return err
	})
	if err != nil {
		return err
	}
	q.logger.Warn(ctx, "mutations moved to dead list", "seq", seq, "reason", reason, "count", len(killed))
	return nil
}

func markDead(ctx context.Context, r store.Repos, seq int64, reason string, diedAt int64) ([]int64, error) {
	if err := r.Mutations.MarkDead(ctx, seq, reason, diedAt); err != nil {
		return nil, err
	}
	killed := []int64{seq}
	deps, err := r.Mutations.Dependents(ctx, seq)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		more, err := markDead(ctx, r, d, fmt.Sprintf("%s: %s", ParentRejected, reason), diedAt)
		if err != nil {
			return nil, err
		}
		killed = append(killed, more...)
	}
	return killed, nil
}

func (q *Queue) Dead(ctx context.Context) ([]models.DeadMutation, error) {
	var out []models.DeadMutation
	err := q.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		out, err = r.Mutations.Dead(ctx)
		return err
	})
	return out, err
}

// RetryDead puts a dead record back in line, with the dependents that
// died because of it.
func (q *Queue) RetryDead(ctx context.Context, seq int64) error {
	err := q.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		dead, err := r.Mutations.Dead(ctx)
		if err != nil {
			return err
		}
		return revive(ctx, r, dead, seq)
	})
	if err != nil {
		return err
	}
	q.Signal()
	return nil
}

func revive(ctx context.Context, r store.Repos, dead []models.DeadMutation, seq int64) error {
	if err := r.Mutations.Revive(ctx, seq); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: seq %d", ErrNotDead, seq)
		}
		return err
	}
	for _, d := range dead {
		if d.DependsOn == seq {
			if err := revive(ctx, r, dead, d.Seq); err != nil {
				return err
			}
		}
	}
	return nil
}

// DiscardDead drops a dead record for good and returns it so the caller
// can revert the entity.
func (q *Queue) DiscardDead(ctx context.Context, seq int64) (models.MutationRecord, error) {
	var rec models.MutationRecord
	err := q.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		var (
			state string
			err   error
		)
		rec, state, err = r.Mutations.Get(ctx, seq)
		if err != nil {
			return err
		}
		if state != mutations.StateDead {
			return fmt.Errorf("%w: seq %d", ErrNotDead, seq)
		}
		return r.Mutations.Delete(ctx, seq)
	})
	return rec, err
}

// PendingFor lists the queued records of an entity in seq order.
func (q *Queue) PendingFor(ctx context.Context, entityID string) ([]models.MutationRecord, error) {
	var out []models.MutationRecord
	err := q.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		out, err = r.Mutations.PendingFor(ctx, entityID)
		return err
	})
	return out, err
}

// HighWater is the last allocated seq; a pass drains nothing above it.
func (q *Queue) HighWater(ctx context.Context) (int64, error) {
	var hw int64
	err := q.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		hw, err = r.Metadata.GetInt(ctx, metadata.KeyNextSeq)
		return err
	})
	return hw, err
}

// Len is the number of queued (not dead) records.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		n, err = r.Mutations.Count(ctx, mutations.StatePending)
		return err
	})
	return n, err
}

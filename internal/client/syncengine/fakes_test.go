package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/resolver"
	"github.com/dmitrijs2005/notesync/internal/rpc"
)

// fakeRemote is a small in-memory document service with failure injection.
type fakeRemote struct {
	mu       sync.Mutex
	version  int64
	entities map[string]models.Entity
	applied  map[string]bool
	pushed   []int64

	pullErr    error
	pushErrs   []error
	failSeq    map[int64][]error
	beforePush func(f *fakeRemote, rec models.MutationRecord)
	rejectSeq  map[int64]string

	// stall makes Push hang until its context ends; stalled receives the
	// seq of every hung call.
	stall   bool
	stalled chan int64
}

var _ client.Client = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		entities:  map[string]models.Entity{},
		applied:   map[string]bool{},
		failSeq:   map[int64][]error{},
		rejectSeq: map[int64]string{},
		stalled:   make(chan int64, 16),
	}
}

func (f *fakeRemote) Close() error                   { return nil }
func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

func (f *fakeRemote) Pull(ctx context.Context, userPath string, since int64) ([]models.Entity, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, 0, f.pullErr
	}
	var out []models.Entity
	for _, e := range f.entities {
		if e.ServerVersion > since {
			out = append(out, e.Clone())
		}
	}
	return out, f.version, nil
}

// put stores an entity as if another device had written it.
func (f *fakeRemote) put(e models.Entity) models.Entity {
	f.version++
	e.ServerVersion = f.version
	e.Touch()
	f.entities[e.ID] = e
	return e
}

func (f *fakeRemote) Put(e models.Entity) models.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(e)
}

func (f *fakeRemote) Get(id string) (models.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	return e.Clone(), ok
}

func (f *fakeRemote) Pushed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.pushed...)
}

func (f *fakeRemote) setStall(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = v
}

func (f *fakeRemote) Push(ctx context.Context, userPath, deviceID string, rec models.MutationRecord, baseVersion int64) (client.PushResult, error) {
	f.mu.Lock()
	if f.stall {
		f.mu.Unlock()
		select {
		case f.stalled <- rec.Seq:
		default:
		}
		<-ctx.Done()
		return client.PushResult{}, ctx.Err()
	}
	defer f.mu.Unlock()

	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		return client.PushResult{}, err
	}
	if errs := f.failSeq[rec.Seq]; len(errs) > 0 {
		f.failSeq[rec.Seq] = errs[1:]
		return client.PushResult{}, errs[0]
	}
	if hook := f.beforePush; hook != nil {
		f.beforePush = nil
		hook(f, rec)
	}
	if reason, ok := f.rejectSeq[rec.Seq]; ok {
		return client.PushResult{Status: rpc.PushRejected, Reason: reason}, nil
	}

	key := fmt.Sprintf("%s/%d", deviceID, rec.Seq)
	cur, exists := f.entities[rec.EntityID]
	if f.applied[key] {
		return client.PushResult{Status: rpc.PushAck, Entity: &cur}, nil
	}

	if rec.Op == models.OpCreate && rec.ParentID != "" {
		if _, ok := f.entities[rec.ParentID]; !ok {
			return client.PushResult{Status: rpc.PushRejected, Reason: "parent entity missing"}, nil
		}
	}
	if exists && baseVersion != cur.ServerVersion {
		return client.PushResult{Status: rpc.PushConflict, Entity: &cur}, nil
	}

	var base *models.Entity
	if exists {
		base = &cur
	}
	next := f.put(resolver.Apply(base, rec))
	f.applied[key] = true
	f.pushed = append(f.pushed, rec.Seq)
	return client.PushResult{Status: rpc.PushAck, Entity: &next}, nil
}

func (f *fakeRemote) Fetch(ctx context.Context, userPath string, ids []string) ([]models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Entity
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRemote) Watch(ctx context.Context, userPath string) (<-chan int64, error) {
	return nil, errors.New("watch not supported")
}

type fakeAuth struct {
	mu  sync.Mutex
	err error
	ch  chan string
}

func newFakeAuth() *fakeAuth { return &fakeAuth{ch: make(chan string, 1)} }

func (a *fakeAuth) CurrentIdentity() (string, bool)           { return "u1", true }
func (a *fakeAuth) Token(ctx context.Context) (string, error) { return "t", a.Check(ctx) }
func (a *fakeAuth) Subscribe() (<-chan string, func())        { return a.ch, func() {} }

func (a *fakeAuth) Check(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *fakeAuth) set(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	if err == nil {
		a.ch <- "u1"
	}
}

type fakeConn struct {
	ch chan bool
}

func newFakeConn() *fakeConn { return &fakeConn{ch: make(chan bool, 1)} }

func (c *fakeConn) Subscribe() (<-chan bool, func()) { return c.ch, func() {} }

func (c *fakeConn) set(v bool) {
	select {
	case <-c.ch:
	default:
	}
	c.ch <- v
}

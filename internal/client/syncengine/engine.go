// Package syncengine reconciles the local store with the document service.
//
// One goroutine (Run) owns the state machine. It reacts to connectivity,
// queue notifications, remote watch events, credential changes and user
// retries, and runs at most one pass at a time. A pass pulls remote changes
// since the cursor, merges them with the conflict resolver and then drains
// the mutation queue up to the high water mark captured when it started.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/queue"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// Connectivity is the online/offline signal, normally connectivity.Monitor.
type Connectivity interface {
	Subscribe() (<-chan bool, func())
}

type Config struct {
	BatchSize       int
	Concurrency     int
	CallTimeout     time.Duration
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ConflictRetries int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.ConflictRetries <= 0 {
		c.ConflictRetries = 3
	}
	return c
}

// Deps are the collaborators of one user's engine.
type Deps struct {
	Store        *store.Store
	Queue        *queue.Queue
	Remote       client.Client
	Auth         auth.Authenticator
	Connectivity Connectivity
	Clock        *timex.Clock
	Logger       logging.Logger
}

type Engine struct {
	store    *store.Store
	queue    *queue.Queue
	remote   client.Client
	auth     auth.Authenticator
	conn     Connectivity
	clock    *timex.Clock
	logger   logging.Logger
	cfg      Config
	userPath string

	deviceID string

	retryCh chan struct{}
	syncCh  chan struct{}

	requested atomic.Int64
	completed atomic.Int64
	cursor    atomic.Int64

	mu      sync.Mutex
	state   State
	lastErr error
	nextSub int
	subs    map[int]chan State
}

func New(d Deps, userPath string, cfg Config) *Engine {
	clock := d.Clock
	if clock == nil {
		clock = timex.NewClock()
	}
	return &Engine{
		store:    d.Store,
		queue:    d.Queue,
		remote:   d.Remote,
		auth:     d.Auth,
		conn:     d.Connectivity,
		clock:    clock,
		logger:   d.Logger.Module("syncengine").With("user_path", userPath),
		cfg:      cfg.withDefaults(),
		userPath: userPath,
		retryCh:  make(chan struct{}, 1),
		syncCh:   make(chan struct{}, 1),
		state:    Offline,
		subs:     map[int]chan State{},
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError is the error that put the engine in Error, or the last
// transient failure while reconnecting.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Subscribe returns a channel holding the latest state, primed with the
// current one.
func (e *Engine) Subscribe() (<-chan State, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan State, 1)
	ch <- e.state
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(s)
}

// setStateIn changes state only while ctx is live, so a cancelled pass
// cannot overwrite the state the loop already moved to.
func (e *Engine) setStateIn(ctx context.Context, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	e.setStateLocked(s)
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	e.logger.Debug(context.Background(), "state changed", "from", e.state.String(), "to", s.String())
	e.state = s
	if s == Idle {
		e.lastErr = nil
	}
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Retry leaves the Error state (and resumes writes after storage-full).
func (e *Engine) Retry() {
	e.requested.Add(1)
	signal(e.retryCh)
}

// SyncNow asks for a pass as soon as the engine is online.
func (e *Engine) SyncNow() {
	e.requested.Add(1)
	signal(e.syncCh)
}

// WaitIdle blocks until a pass started after the call has finished and
// the queue is empty. It returns the engine error if the engine ends up in
// Error.
func (e *Engine) WaitIdle(ctx context.Context) error {
	target := e.requested.Add(1)
	signal(e.syncCh)

	states, stop := e.Subscribe()
	defer stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		switch e.State() {
		case Error:
			return e.LastError()
		case Idle:
			if e.completed.Load() >= target {
				n, err := e.queue.Len(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-states:
		case <-tick.C:
		}
	}
}

type passResult struct {
	target int64
	err    error
}

// Run drives the state machine until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if c, err := e.store.Cursor(ctx); err == nil {
		e.cursor.Store(c)
	}

	online, stopConn := e.conn.Subscribe()
	defer stopConn()
	creds, stopCreds := e.auth.Subscribe()
	defer stopCreds()

	var (
		isOnline bool
		errored  bool
		running  bool
		dirty    = true
		done     = make(chan passResult, 1)
		watch    <-chan int64
		backoff  retry.Backoff
		timer    *time.Timer
		timerC   <-chan time.Time

		cancelPass context.CancelFunc = func() {}
		stopWatch  context.CancelFunc = func() {}
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	defer func() {
		stopWatch()
		stopTimer()
	}()

	for {
		if isOnline && !errored && dirty && !running && timerC == nil {
			dirty = false
			running = true
			target := e.requested.Load()
			var pctx context.Context
			pctx, cancelPass = context.WithCancel(ctx)
			e.setState(Connecting)
			go func() {
				done <- passResult{target: target, err: e.pass(pctx)}
			}()
		}

		select {
		case <-ctx.Done():
			cancelPass()
			if running {
				<-done
			}
			return ctx.Err()

		case v := <-online:
			if v == isOnline {
				continue
			}
			isOnline = v
			if !v {
				stopWatch()
				watch = nil
				cancelPass()
				stopTimer()
				backoff = nil
				e.setState(Offline)
				continue
			}
			dirty = true
			if errored {
				e.setState(Error)
			}

		case <-e.queue.Notify():
			dirty = true

		case v, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			if v > e.cursor.Load() {
				dirty = true
			}

		case <-e.retryCh:
			if e.store.Full() {
				if err := e.store.ResumeWrites(ctx); err != nil {
					e.setErr(err)
					continue
				}
			}
			errored = false
			backoff = nil
			stopTimer()
			dirty = true
			if !isOnline {
				e.setState(Offline)
			}

		case <-e.syncCh:
			dirty = true

		case <-creds:
			errored = false
			backoff = nil
			stopTimer()
			dirty = true

		case <-timerC:
			timerC = nil
			dirty = true

		case res := <-done:
			running = false
			cancelPass()

			switch {
			case res.err == nil:
				backoff = nil
				e.markCompleted(res.target)
				if watch == nil {
					watch, stopWatch = e.openWatch(ctx)
				}
				if !dirty {
					e.setState(Idle)
				}

			case !isOnline || ctx.Err() != nil || errors.Is(res.err, context.Canceled):
				// cancelled by connectivity loss; the queue is intact
				dirty = true

			case permanent(res.err):
				errored = true
				e.setErr(res.err)
				e.setState(Error)
				e.logger.Error(ctx, "sync stopped", "error", res.err)

			default:
				dirty = true
				e.setErr(res.err)
				if backoff == nil {
					backoff = e.newBackoff()
				}
				delay, _ := backoff.Next()
				timer = time.NewTimer(delay)
				timerC = timer.C
				e.setState(Connecting)
				e.logger.Warn(ctx, "sync pass failed, retrying", "error", res.err, "delay", delay.String())
			}
		}
	}
}

func (e *Engine) markCompleted(target int64) {
	for {
		cur := e.completed.Load()
		if cur >= target || e.completed.CompareAndSwap(cur, target) {
			return
		}
	}
}

func (e *Engine) newBackoff() retry.Backoff {
	b := retry.NewExponential(e.cfg.RetryBaseDelay)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(e.cfg.RetryMaxDelay, b)
}

func (e *Engine) openWatch(ctx context.Context) (<-chan int64, context.CancelFunc) {
	wctx, cancel := context.WithCancel(ctx)
	ch, err := e.remote.Watch(wctx, e.userPath)
	if err != nil {
		cancel()
		e.logger.Debug(ctx, "watch unavailable", "error", err)
		return nil, func() {}
	}
	return ch, cancel
}

// permanent errors stop the engine until Retry or a credential change.
func permanent(err error) bool {
	return errors.Is(err, client.ErrUnauthorized) ||
		errors.Is(err, auth.ErrExpired) ||
		errors.Is(err, auth.ErrNoCredentials) ||
		errors.Is(err, store.ErrStorageFull)
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func wrapAuth(err error) error {
	return fmt.Errorf("%w: %w", client.ErrUnauthorized, err)
}

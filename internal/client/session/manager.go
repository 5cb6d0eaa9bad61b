package session

import (
	"context"
	"sync"
)

// Manager keeps exactly one session open for the signed-in user. On every
// identity change the running session is cancelled, awaited and closed
// before the next user's database is opened.
type Manager struct {
	opts Options
	deps Deps

	mu      sync.Mutex
	current *Session
	updates chan *Session
}

func NewManager(opts Options, d Deps) *Manager {
	return &Manager{opts: opts, deps: d, updates: make(chan *Session, 1)}
}

// Current returns the running session, or nil while signed out.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Updates delivers the latest session (nil after sign-out). Only the most
// recent value is kept.
func (m *Manager) Updates() <-chan *Session {
	return m.updates
}

func (m *Manager) publish(s *Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	select {
	case <-m.updates:
	default:
	}
	m.updates <- s
}

type running struct {
	session *Session
	cancel  context.CancelFunc
	done    chan error
}

func (r *running) stop() error {
	r.cancel()
	err := <-r.done
	if cerr := r.session.Close(); err == nil {
		err = cerr
	}
	return err
}

// Run follows the authenticator until ctx ends. A session that fails to
// open is logged and retried on the next identity change.
func (m *Manager) Run(ctx context.Context) error {
	changes, unsubscribe := m.deps.Auth.Subscribe()
	defer unsubscribe()

	var cur *running
	stop := func() {
		if cur == nil {
			return
		}
		if err := cur.stop(); err != nil {
			m.deps.Logger.Error(ctx, "session ended with error", "user", cur.session.UserID, "error", err)
		}
		cur = nil
		m.publish(nil)
	}
	defer stop()

	switchTo := func(userID string) {
		if cur != nil && cur.session.UserID == userID {
			return
		}
		stop()
		if userID == "" {
			return
		}
		s, err := Open(ctx, userID, m.opts, m.deps)
		if err != nil {
			m.deps.Logger.Error(ctx, "cannot open session", "user", userID, "error", err)
			return
		}
		sctx, cancel := context.WithCancel(ctx)
		r := &running{session: s, cancel: cancel, done: make(chan error, 1)}
		go func() { r.done <- s.Run(sctx) }()
		cur = r
		m.publish(s)
	}

	userID, _ := m.deps.Auth.CurrentIdentity()
	switchTo(userID)

	for {
		var ended <-chan error
		if cur != nil {
			ended = cur.done
		}

		select {
		case <-ctx.Done():
			return nil
		case userID := <-changes:
			switchTo(userID)
		case err := <-ended:
			m.deps.Logger.Error(ctx, "session stopped", "user", cur.session.UserID, "error", err)
			if cerr := cur.session.Close(); cerr != nil {
				m.deps.Logger.Error(ctx, "close session", "user", cur.session.UserID, "error", cerr)
			}
			cur = nil
			m.publish(nil)
		}
	}
}

// Package connectivity tracks whether the document service is reachable by
// pinging it on a fixed interval and fans the online/offline state out to
// subscribers.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/logging"
)

// Pinger is the liveness probe, normally the remote client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	online  bool
	nextSub int
	subs    map[int]chan bool
}

func NewMonitor(p Pinger, interval, timeout time.Duration, logger logging.Logger) *Monitor {
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Module("connectivity"),
		subs:     map[int]chan bool{},
	}
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Probe pings once and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pctx)
	cancel()

	if err != nil && ctx.Err() == nil {
		m.logger.Debug(ctx, "ping failed", "error", err)
	}
	m.Set(err == nil)
	return err == nil
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set forces the state, notifying subscribers on a change.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online
	m.logger.Info(context.Background(), "connectivity changed", "online", online)

	for _, ch := range m.subs {
		replace(ch, online)
	}
}

// Subscribe returns a channel that holds the latest state; it is primed
// with the current one.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan bool, 1)
	ch <- m.online
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func replace(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

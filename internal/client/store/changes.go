package store

import (
	"context"
	"sync"
)

// Subscription collects ids of entities committed since the last Next.
// Ids coalesce, so a slow reader never blocks writers and never misses an
// entity, it just sees it once.
type Subscription struct {
	mu      sync.Mutex
	pending map[string]struct{}
	ready   chan struct{}
	cancel  func()
}

func newSubscription() *Subscription {
	return &Subscription{pending: map[string]struct{}{}, ready: make(chan struct{}, 1)}
}

func (s *Subscription) add(ids []string) {
	s.mu.Lock()
	for _, id := range ids {
		s.pending[id] = struct{}{}
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready fires when Next has something to return.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Next blocks until at least one id is available or ctx ends.
func (s *Subscription) Next(ctx context.Context) ([]string, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			ids := make([]string, 0, len(s.pending))
			for id := range s.pending {
				ids = append(ids, id)
			}
			clear(s.pending)
			s.mu.Unlock()
			return ids, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ready:
		}
	}
}

// Close detaches the subscription from the store.
func (s *Subscription) Close() {
	s.cancel()
}

type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]*Subscription
}

func (h *hub) subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs == nil {
		h.subs = map[int]*Subscription{}
	}
	id := h.next
	h.next++

	sub := newSubscription()
	sub.cancel = func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	h.subs[id] = sub
	return sub
}

func (h *hub) publish(ids []string) {
	if len(ids) == 0 {
		return
	}
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.add(ids)
	}
}

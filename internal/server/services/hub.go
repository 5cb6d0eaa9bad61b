package services

import "sync"

// Hub fans version announcements out to the watchers of each user. Every
// subscription holds only the latest version; a slow watcher skips
// intermediate ones.
type Hub struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]chan int64
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[uint64]chan int64{}}
}

// Subscribe returns a channel of versions for userID and a cancel func
// that must be called once the caller stops reading.
func (h *Hub) Subscribe(userID string) (<-chan int64, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	ch := make(chan int64, 1)
	if h.subs[userID] == nil {
		h.subs[userID] = map[uint64]chan int64{}
	}
	h.subs[userID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	}
}

// Publish announces version to every watcher of userID without blocking.
func (h *Hub) Publish(userID string, version int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[userID] {
		select {
		case <-ch:
		default:
		}
		ch <- version
	}
}

// Watchers returns the number of live subscriptions of userID.
func (h *Hub) Watchers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

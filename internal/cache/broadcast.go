package cache

import "github.com/star/orbitwatch/internal/snapshot"

// Subscribe registers for every snapshot rendered from now on. The channel
// holds one pending snapshot; a subscriber that falls behind skips to the
// newest. Call cancel to unsubscribe; the channel is then closed.
func (h *History) Subscribe() (<-chan *snapshot.Snapshot, func()) {
	ch := make(chan *snapshot.Snapshot, 1)

	h.subsMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.subsMu.Unlock()

	cancel := func() {
		h.subsMu.Lock()
		defer h.subsMu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// broadcast delivers s to every subscriber without blocking. A pending
// snapshot that was never read is replaced.
func (h *History) broadcast(s *snapshot.Snapshot) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Drop the stale pending snapshot and retry once.
		select {
		case <-ch:
			h.dropped.Add(1)
		default:
		}
		select {
		case ch <- s:
		default:
			h.dropped.Add(1)
		}
	}
}

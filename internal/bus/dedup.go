package bus

import "sync"

// DefaultDedupWindow is the number of envelope ids remembered per room.
const DefaultDedupWindow = 1024

// Window remembers the most recent envelope ids, evicting the oldest first.
type Window struct {
	mu   sync.Mutex
	size int
	seen map[string]struct{}
	ring []string
	next int
}

// NewWindow creates a window holding up to size ids.
func NewWindow(size int) *Window {
	return &Window{
		size: size,
		seen: make(map[string]struct{}, size),
		ring: make([]string, 0, size),
	}
}

// Seen records id and reports whether it was already in the window.
// Empty ids are never considered duplicates.
func (w *Window) Seen(id string) bool {
	if id == "" || w.size <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}

	if len(w.ring) < w.size {
		w.ring = append(w.ring, id)
	} else {
		delete(w.seen, w.ring[w.next])
		w.ring[w.next] = id
		w.next = (w.next + 1) % w.size
	}
	w.seen[id] = struct{}{}
	return false
}

// Len returns the number of ids currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Dedup wraps h so an envelope id already seen within the last size
// deliveries is dropped. size <= 0 returns h unchanged.
func Dedup(size int, h Handler) Handler {
	if size <= 0 {
		return h
	}
	w := NewWindow(size)
	return func(env Envelope) {
		if w.Seen(env.ID) {
			return
		}
		h(env)
	}
}

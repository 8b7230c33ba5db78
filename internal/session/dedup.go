package session

// DuplicateWindow remembers the last N packet fingerprints of one flow
// direction.
type DuplicateWindow struct {
	ring []uint64
	head int // oldest entry once the ring is full
	seen map[uint64]struct{}
}

// NewDuplicateWindow creates a window holding up to size fingerprints.
func NewDuplicateWindow(size int) *DuplicateWindow {
	if size < 1 {
		size = 1
	}
	return &DuplicateWindow{
		ring: make([]uint64, 0, size),
		seen: make(map[uint64]struct{}, size),
	}
}

// CheckAndInsert reports whether fp is already in the window. A new
// fingerprint is inserted, evicting the oldest one when the window is full.
func (w *DuplicateWindow) CheckAndInsert(fp uint64) bool {
	if _, ok := w.seen[fp]; ok {
		return true
	}
	if len(w.ring) < cap(w.ring) {
		w.ring = append(w.ring, fp)
	} else {
		delete(w.seen, w.ring[w.head])
		w.ring[w.head] = fp
		w.head = (w.head + 1) % len(w.ring)
	}
	w.seen[fp] = struct{}{}
	return false
}

// Len returns the number of fingerprints held.
func (w *DuplicateWindow) Len() int {
	return len(w.ring)
}

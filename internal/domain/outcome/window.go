package outcome

// DefaultWindowSize is the number of outcomes retained per key.
const DefaultWindowSize = 100

// Window is a bounded FIFO of outcomes with decision-id deduplication.
// It is not safe for concurrent use; the owner serializes access.
type Window struct {
	size  int
	buf   []Outcome
	seen  map[string]struct{}
	added int // total accepted, including evicted entries
}

// NewWindow creates a window holding at most size outcomes.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, seen: make(map[string]struct{})}
}

// Add appends o unless its decision id is already recorded. Returns false for duplicates.
// Ids of evicted outcomes stay remembered so late replays are still rejected.
func (w *Window) Add(o Outcome) bool {
	if o.DecisionID != "" {
		if _, dup := w.seen[o.DecisionID]; dup {
			return false
		}
		w.seen[o.DecisionID] = struct{}{}
	}
	if len(w.buf) == w.size {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:w.size-1]
	}
	w.buf = append(w.buf, o)
	w.added++
	w.trimSeen()
	return true
}

// Len returns the number of outcomes held.
func (w *Window) Len() int { return len(w.buf) }

// Added returns the total number of accepted outcomes since creation.
func (w *Window) Added() int { return w.added }

// Recent returns a copy of the last n outcomes, oldest first.
func (w *Window) Recent(n int) []Outcome {
	if n > len(w.buf) {
		n = len(w.buf)
	}
	out := make([]Outcome, n)
	copy(out, w.buf[len(w.buf)-n:])
	return out
}

// Snapshot returns an immutable copy of the whole window.
func (w *Window) Snapshot() []Outcome {
	return w.Recent(len(w.buf))
}

// trimSeen bounds the dedup index to a multiple of the window so it cannot grow
// without limit. Ids still in the buffer are always kept.
func (w *Window) trimSeen() {
	if len(w.seen) <= w.size*10 {
		return
	}
	keep := make(map[string]struct{}, len(w.buf))
	for i := range w.buf {
		if id := w.buf[i].DecisionID; id != "" {
			keep[id] = struct{}{}
		}
	}
	w.seen = keep
}

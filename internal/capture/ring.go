// Package capture implements the Capture Engine (spec §4.3): for every live
// session, periodically captures a bounded window of pane text, strips
// terminal escape codes, and maintains a ring buffer plus delta usable by
// the Classifier and Rule Engine.
package capture

import (
	"sync"
)

// Ring is a bounded ring buffer of plain-text lines for one session's
// CaptureBuffer (spec §3).
type Ring struct {
	mu        sync.Mutex
	lines     []string
	capacity  int
	lastFull  []string // the previous full snapshot, for delta computation
}

// NewRing creates a Ring bounded to capacity lines.
func NewRing(capacity int) *Ring {
	return &Ring{capacity: capacity}
}

// Update takes the newly captured snapshot (already ANSI-stripped), appends
// the delta (lines appended since the previous snapshot) to the ring,
// evicting the oldest lines beyond capacity, and returns that delta.
//
// Delta computation looks for the longest suffix of the previous snapshot
// that is a prefix of the new snapshot (a simple but correct approach given
// scroll-only terminal semantics) with a hysteresis bound: if no overlap is
// found within the last overlapWindow lines of the previous snapshot, the
// pane is assumed to have scrolled past more than one full screen between
// captures, and the entire new snapshot is treated as delta (spec §4.3).
func (r *Ring) Update(snapshot []string) (delta []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.lastFull
	delta = computeDelta(prev, snapshot, overlapWindow(len(prev)))

	r.lastFull = append([]string(nil), snapshot...)

	combined := append(r.lines, delta...)
	if len(combined) > r.capacity {
		combined = combined[len(combined)-r.capacity:]
	}
	r.lines = combined

	return delta
}

// overlapWindow bounds how far back we search for the scroll anchor: at most
// the full previous snapshot, which is already bounded by the capture
// window size (spec §4.3, typical ~500 lines).
func overlapWindow(prevLen int) int {
	return prevLen
}

// computeDelta finds new lines appended to prev to produce next. If prev is
// empty, all of next is delta (first capture for the session).
func computeDelta(prev, next []string, window int) []string {
	if len(prev) == 0 {
		return append([]string(nil), next...)
	}

	// Search for the longest suffix of prev that matches a prefix of next,
	// scanning back at most `window` lines into prev.
	start := 0
	if len(prev) > window {
		start = len(prev) - window
	}

	for anchor := start; anchor < len(prev); anchor++ {
		suffix := prev[anchor:]
		if isPrefix(suffix, next) {
			return append([]string(nil), next[len(suffix):]...)
		}
	}

	// No overlap found: pane scrolled past the captured window. Treat the
	// entire new ring as delta (spec §4.3 "On overflow...").
	return append([]string(nil), next...)
}

func isPrefix(suffix, next []string) bool {
	if len(suffix) > len(next) {
		return false
	}
	for i, l := range suffix {
		if next[i] != l {
			return false
		}
	}
	return true
}

// Lines returns a snapshot copy of the ring's current contents.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Tail returns the last n lines of the ring.
func (r *Ring) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= len(r.lines) {
		return append([]string(nil), r.lines...)
	}
	return append([]string(nil), r.lines[len(r.lines)-n:]...)
}

// internal/diagnostics/ring.go
package diagnostics

import "sync"

// Ring is a fixed-capacity FIFO buffer. Once full, appending a new entry
// evicts the oldest. Capacity is fixed at construction.
type Ring[T any] struct {
	mu      sync.Mutex
	entries []T
	head    int // index of the oldest entry
	size    int
}

// NewRing creates a ring buffer holding at most capacity entries. A
// non-positive capacity is clamped to 1 so appends never fail.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

// Append adds an entry, evicting the oldest when the buffer is full.
func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.entries) {
		r.entries[(r.head+r.size)%len(r.entries)] = v
		r.size++
		return
	}
	r.entries[r.head] = v
	r.head = (r.head + 1) % len(r.entries)
}

// Snapshot returns an ordered copy of the current entries, oldest first. It
// does not mutate the buffer; calling it twice without intervening appends
// yields equal copies.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.head+i)%len(r.entries)]
	}
	return out
}

// Clear empties the buffer without changing its capacity.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}

// Len reports the number of buffered entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Package ring implements a fixed-capacity circular buffer that silently
// overwrites its oldest element once full.
//
// Indices are advanced modulo the capacity, so any positive capacity works.
// Buffer is not safe for concurrent use; callers guard it.
package ring

// Buffer is a fixed-capacity FIFO that overwrites the oldest entry when full.
type Buffer[T any] struct {
	items []T
	head  int // next write index
	count int
}

// New returns an empty buffer holding at most capacity items.
// A non-positive capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, overwriting the oldest item when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	if b.count < len(b.items) {
		b.count++
	}
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int { return b.count }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Reset drops all items.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.count = 0
}

// Last copies up to n of the newest items, ordered oldest first.
// n <= 0 or n > Len() returns every stored item.
func (b *Buffer[T]) Last(n int) []T {
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]T, n)
	c := len(b.items)
	for k := 0; k < n; k++ {
		idx := (b.head - n + k + c) % c
		out[k] = b.items[idx]
	}
	return out
}

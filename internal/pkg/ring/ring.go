// Package ring provides a bounded FIFO buffer.
package ring

// minGrow is the first allocation made by a buffer that has never grown.
const minGrow = 16

// Buffer is a circular buffer holding at most Cap items, oldest first. The
// backing array grows by doubling as items arrive, so an idle buffer with a
// large capacity costs almost nothing.
// It is not safe for concurrent use; owners guard it with their own lock.
//
// Complexity:
//   - Push: amortized O(1), evicting the oldest item when full
//   - DropFront: O(k) for k dropped items
//   - Snapshot: O(n)
type Buffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
}

// New creates a buffer with the given capacity (minimum 1). No storage is
// allocated until the first Push.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{capacity: capacity}
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int { return b.capacity }

// grow reallocates to the next size, laying items out from index 0.
func (b *Buffer[T]) grow() {
	n := min(max(2*len(b.items), minGrow), b.capacity)
	items := make([]T, n)
	for i := 0; i < b.size; i++ {
		items[i] = b.items[(b.head+i)%len(b.items)]
	}
	b.items = items
	b.head = 0
}

// Push appends v. When the buffer is full the oldest item is evicted and
// returned with ok=true.
func (b *Buffer[T]) Push(v T) (evicted T, ok bool) {
	if b.size == b.capacity {
		evicted = b.items[b.head]
		b.items[b.head] = v
		b.head = (b.head + 1) % len(b.items)
		return evicted, true
	}
	if b.size == len(b.items) {
		b.grow()
	}
	b.items[(b.head+b.size)%len(b.items)] = v
	b.size++
	return evicted, false
}

// Front returns the oldest item.
func (b *Buffer[T]) Front() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[b.head], true
}

// DropFront removes items from the oldest end while drop returns true and
// calls onDrop for each. It returns the number removed. Storage is kept for
// reuse.
func (b *Buffer[T]) DropFront(drop func(T) bool, onDrop func(T)) int {
	var zero T
	n := 0
	for b.size > 0 && drop(b.items[b.head]) {
		if onDrop != nil {
			onDrop(b.items[b.head])
		}
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
		b.size--
		n++
	}
	return n
}

// Snapshot copies the items, oldest first, keeping those accepted by keep.
// A nil keep copies everything.
func (b *Buffer[T]) Snapshot(keep func(T) bool) []T {
	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		v := b.items[(b.head+i)%len(b.items)]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

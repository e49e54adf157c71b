package metrics

// RingBuffer is a fixed-capacity FIFO that overwrites the oldest element
// when full. It is not safe for concurrent use; owners guard it with
// their own lock.
//
// Usage:
//
//	buf := NewRingBuffer[MetricPoint](1000)
//	buf.Push(point)
//	recent := buf.Last(10)
type RingBuffer[T any] struct {
	data []T
	head int // index where the next element is written
	size int
}

// NewRingBuffer creates a buffer holding at most capacity elements.
// Panics if capacity is less than 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		panic("RingBuffer capacity must be at least 1")
	}
	return &RingBuffer[T]{data: make([]T, capacity)}
}

// Push appends item, evicting the oldest element when full.
func (b *RingBuffer[T]) Push(item T) {
	b.data[b.head] = item
	b.head = (b.head + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
}

// Len returns the number of stored elements.
func (b *RingBuffer[T]) Len() int { return b.size }

// Cap returns the maximum number of elements.
func (b *RingBuffer[T]) Cap() int { return len(b.data) }

// tail returns the index of the oldest element.
func (b *RingBuffer[T]) tail() int {
	return (b.head - b.size + len(b.data)) % len(b.data)
}

// At returns the i-th element counting from the oldest.
func (b *RingBuffer[T]) At(i int) T {
	return b.data[(b.tail()+i)%len(b.data)]
}

// All returns a copy of the elements, oldest first.
func (b *RingBuffer[T]) All() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Last returns up to n of the newest elements, oldest first.
func (b *RingBuffer[T]) Last(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > b.size {
		n = b.size
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.At(b.size - n + i)
	}
	return out
}

// Oldest returns the oldest element and whether the buffer is non-empty.
func (b *RingBuffer[T]) Oldest() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.At(0), true
}

// DropOldest removes the oldest element.
func (b *RingBuffer[T]) DropOldest() {
	if b.size == 0 {
		return
	}
	var zero T
	b.data[b.tail()] = zero
	b.size--
}

// PruneWhile drops elements from the oldest end while pred reports true
// and returns how many were dropped. Elements must be stored in the order
// pred cares about (for example by timestamp) for this to be meaningful.
func (b *RingBuffer[T]) PruneWhile(pred func(T) bool) int {
	dropped := 0
	for b.size > 0 && pred(b.At(0)) {
		b.DropOldest()
		dropped++
	}
	return dropped
}

// Clear removes all elements.
func (b *RingBuffer[T]) Clear() {
	clear(b.data)
	b.head = 0
	b.size = 0
}

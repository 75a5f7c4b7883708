// Package queue collects the contents of a concurrent FIFO into a slice.
package queue

// Drain receives from q while it reports pending items and returns them in
// order. It does not wait for producers: anything sent after the last length
// check stays in q, so callers either stop writers first or accept a partial
// snapshot.
func Drain[T any](q <-chan T) []T {
	result := make([]T, 0, len(q))
	for len(q) != 0 {
		result = append(result, <-q)
	}
	return result
}

// FIFO is a bounded first-in first-out queue safe for concurrent use
type FIFO[T any] struct {
	ch chan T
}

// NewFIFO creates a queue holding at most capacity items
func NewFIFO[T any](capacity int) *FIFO[T] {
	return &FIFO[T]{ch: make(chan T, capacity)}
}

// Put appends v, blocking while the queue is full
func (f *FIFO[T]) Put(v T) {
	f.ch <- v
}

// TryPut appends v unless the queue is full
func (f *FIFO[T]) TryPut(v T) bool {
	select {
	case f.ch <- v:
		return true
	default:
		return false
	}
}

// Get removes the oldest item, blocking while the queue is empty
func (f *FIFO[T]) Get() T {
	return <-f.ch
}

// Len returns the number of queued items
func (f *FIFO[T]) Len() int {
	return len(f.ch)
}

// Drain empties the queue into a slice; see Drain
func (f *FIFO[T]) Drain() []T {
	return Drain(f.ch)
}

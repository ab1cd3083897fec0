package queue

// Queue is a generic FIFO queue. It is not safe for concurrent use; owners
// guard it with their own lock.
type Queue[T any] struct {
	items []T
	head  int
}

// New creates and returns a new Queue instance with room for sizeHint items.
func New[T any](sizeHint int) *Queue[T] {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Queue[T]{items: make([]T, 0, sizeHint)}
}

// Enqueue adds an element to the end of the queue.
func (q *Queue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the front element of the queue.
// The boolean indicates whether an element was dequeued (false if the queue was empty).
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// Compact once the consumed prefix dominates so the backing array does
	// not keep dequeued frames alive.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Len returns the number of elements in the queue.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

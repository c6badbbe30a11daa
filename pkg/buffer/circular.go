package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Statistics tracks buffer activity with atomic counters.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	drops     atomic.Int64
	maxFilled atomic.Int64
}

// Writes returns the total number of successful writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of items read out.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the total number of items discarded by the overflow policy.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// MaxFilled returns the high-water mark of buffered items.
func (s *Statistics) MaxFilled() int64 { return s.maxFilled.Load() }

// Circular is a fixed-capacity ring buffer safe for concurrent producers
// and consumers.
type Circular[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool
	stats    Statistics
	opts     *options[T]
}

// NewCircular creates a circular buffer with the given capacity.
func NewCircular[T any](capacity int, opts ...Option[T]) (*Circular[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &Circular[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		opts:     applyOptions(opts...),
	}, nil
}

// Write adds an item according to the overflow policy. Writes to a closed
// buffer return an error.
func (b *Circular[T]) Write(item T) error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("write to closed buffer")
	}

	var dropped T
	var didDrop bool

	if b.size == b.capacity {
		switch b.opts.overflowPolicy {
		case DropOldest:
			dropped = b.items[b.tail]
			b.tail = (b.tail + 1) % b.capacity
			b.size--
			didDrop = true
		case DropNewest:
			b.recordDrop()
			callback := b.opts.dropCallback
			b.mu.Unlock()
			if callback != nil {
				callback(item)
			}
			return nil
		}
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.size++
	b.stats.writes.Add(1)
	if int64(b.size) > b.stats.maxFilled.Load() {
		b.stats.maxFilled.Store(int64(b.size))
	}
	if didDrop {
		b.recordDrop()
	}
	callback := b.opts.dropCallback
	b.mu.Unlock()

	if didDrop && callback != nil {
		callback(dropped)
	}
	return nil
}

// recordDrop updates drop accounting. Caller holds the lock.
func (b *Circular[T]) recordDrop() {
	b.stats.drops.Add(1)
	if b.opts.dropCounter != nil {
		b.opts.dropCounter.Inc()
	}
}

// Read removes and returns one item, or false when the buffer is empty.
func (b *Circular[T]) Read() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}

	item := b.items[b.tail]
	b.items[b.tail] = zero // release for GC
	b.tail = (b.tail + 1) % b.capacity
	b.size--
	b.stats.reads.Add(1)
	return item, true
}

// ReadBatch removes and returns up to max items in FIFO order.
func (b *Circular[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}

	count := max
	if count > b.size {
		count = b.size
	}

	var zero T
	result := make([]T, count)
	for i := 0; i < count; i++ {
		result[i] = b.items[b.tail]
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
		b.size--
	}
	b.stats.reads.Add(int64(count))
	return result
}

// Size returns the current number of buffered items.
func (b *Circular[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the fixed capacity.
func (b *Circular[T]) Capacity() int {
	return b.capacity
}

// Stats returns the buffer's statistics tracker.
func (b *Circular[T]) Stats() *Statistics {
	return &b.stats
}

// Close marks the buffer closed for writes. Reads continue to drain
// whatever is buffered. Idempotent.
func (b *Circular[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

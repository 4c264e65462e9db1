package perf

import (
	"sync"
)

// =============================================================================
// MEMORY POOL
// =============================================================================
//
// Bounded free-list of reusable scratch objects. The pool holds no
// domain knowledge: construction and reset behavior are injected by the
// caller. Unlike sync.Pool, Release enforces an exact capacity bound and
// Clear drops everything deterministically.

// PoolStats provides observability into pool behavior.
type PoolStats struct {
	Size     int   // objects currently pooled
	Capacity int   // configured maximum
	Created  int64 // factory invocations
	Reused   int64 // acquisitions served from the free list
	Dropped  int64 // releases discarded at capacity
}

// Pool is a bounded free-list of reusable objects.
type Pool[T any] struct {
	mu sync.Mutex

	items    []T
	capacity int
	factory  func() T
	reset    func(T)

	created int64
	reused  int64
	dropped int64
}

// NewPool creates a pool of at most capacity objects. factory constructs
// a fresh object; reset (optional) runs on a pooled object before it is
// handed out again.
func NewPool[T any](capacity int, factory func() T, reset func(T)) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool[T]{
		capacity: capacity,
		factory:  factory,
		reset:    reset,
	}
}

// Acquire returns a pooled object when one is available, running the
// reset function first, or constructs a fresh one via the factory.
func (p *Pool[T]) Acquire() T {
	p.mu.Lock()
	if n := len(p.items); n > 0 {
		obj := p.items[n-1]
		p.items = p.items[:n-1]
		p.reused++
		reset := p.reset
		p.mu.Unlock()

		if reset != nil {
			reset(obj)
		}
		return obj
	}
	p.created++
	p.mu.Unlock()

	return p.factory()
}

// Release returns the object to the pool unless the pool is full, in
// which case the object is dropped for normal reclamation.
func (p *Pool[T]) Release(obj T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) >= p.capacity {
		p.dropped++
		return
	}
	p.items = append(p.items, obj)
}

// Clear drops all pooled objects.
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = nil
}

// Len returns the number of objects currently pooled.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Size:     len(p.items),
		Capacity: p.capacity,
		Created:  p.created,
		Reused:   p.reused,
		Dropped:  p.dropped,
	}
}

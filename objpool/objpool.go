// Package objpool is a thin, generic recycling cache over sync.Pool.
//
// It is an optional allocator collaborator, not on any correctness-critical
// path: callers may always construct values directly instead of pooling
// them without changing the behavior of whatever uses the pool.
package objpool

import "sync"

// Pool recycles values of type T. The zero value is not usable; construct
// one with New.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// New creates a Pool. newFn allocates a fresh T when the pool is empty.
// reset, if non-nil, is called on a value just before it is returned to the
// pool by Put, to clear it for reuse.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	if newFn == nil {
		panic("objpool: nil newFn")
	}
	return &Pool[T]{
		pool:  sync.Pool{New: func() any { return newFn() }},
		reset: reset,
	}
}

// Get returns a recycled value, or a freshly allocated one if none are
// available.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns v to the pool for reuse, after applying the configured reset
// function, if any.
func (p *Pool[T]) Put(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.pool.Put(v)
}

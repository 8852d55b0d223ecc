// Package keyedmutex provides per-key mutual exclusion with a bounded total
// number of simultaneously held locks, used as an optional collaborator
// alongside the priorate admission engine (e.g. to serialize per-key work
// inside the protected section Acquire guards).
package keyedmutex

import (
	"context"
	"errors"
	"sync"
)

// Mode selects behavior when the total-capacity semaphore is exhausted.
type Mode int

const (
	// Blocking (the default) waits for capacity to free up.
	Blocking Mode = iota
	// FailFast returns ErrCapacityExceeded immediately instead of waiting.
	FailFast
)

// ErrCapacityExceeded is returned by Locked in FailFast mode when the total
// in-flight capacity is already exhausted.
var ErrCapacityExceeded = errors.New("keyedmutex: capacity exceeded")

// entry is the per-key lock state. In fair mode, ticket is a size-1
// buffered channel used as a FIFO-ordered binary semaphore (pre-filled
// with one token); in non-fair mode, mu is used directly.
type entry struct {
	mu      sync.Mutex
	ticket  chan struct{}
	waiters int
}

// KeyedMutex is a mapping from an application-supplied key to a lock,
// created on first use and evicted once it has no holders or waiters.
//
// Construct with New; the zero value is not usable.
type KeyedMutex struct {
	capacity int
	fair     bool
	sem      chan struct{} // capacity-bounded semaphore, shared across all keys

	mu      sync.Mutex
	entries map[string]*entry
}

// Config holds KeyedMutex construction options.
type Config struct {
	// Capacity bounds the number of simultaneously held locks across all
	// keys. Must be positive.
	Capacity int
	// Fair, if true, routes both the capacity semaphore and each key's
	// lock through FIFO queues, at some cost to throughput.
	Fair bool
}

// New constructs a KeyedMutex. Panics if cfg.Capacity is not positive.
func New(cfg Config) *KeyedMutex {
	if cfg.Capacity <= 0 {
		panic("keyedmutex: capacity must be positive")
	}
	return &KeyedMutex{
		capacity: cfg.Capacity,
		fair:     cfg.Fair,
		sem:      make(chan struct{}, cfg.Capacity),
		entries:  make(map[string]*entry),
	}
}

// Locked acquires the lock for key (creating it on first use), runs
// action, then releases the lock. The total-capacity semaphore is
// respected first: in Blocking mode (the default) Locked waits for a slot,
// honoring ctx cancellation; in FailFast mode it returns
// ErrCapacityExceeded immediately if no slot is free.
func (km *KeyedMutex) Locked(ctx context.Context, key string, mode Mode, action func() error) error {
	if ctx == nil {
		panic("keyedmutex: nil context")
	}

	if err := km.acquireCapacity(ctx, mode); err != nil {
		return err
	}
	defer func() { <-km.sem }()

	e := km.acquireEntry(key)
	if km.fair {
		select {
		case <-e.ticket:
		case <-ctx.Done():
			km.releaseEntry(key, e)
			return ctx.Err()
		}
	} else {
		e.mu.Lock()
	}

	defer func() {
		if km.fair {
			e.ticket <- struct{}{}
		} else {
			e.mu.Unlock()
		}
		km.releaseEntry(key, e)
	}()

	return action()
}

func (km *KeyedMutex) acquireCapacity(ctx context.Context, mode Mode) error {
	if mode == FailFast {
		select {
		case km.sem <- struct{}{}:
			return nil
		default:
			return ErrCapacityExceeded
		}
	}
	select {
	case km.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireEntry fetches or creates the entry for key, and marks this caller
// as a waiter on it, so concurrent releases don't evict it out from under
// us.
func (km *KeyedMutex) acquireEntry(key string) *entry {
	km.mu.Lock()
	defer km.mu.Unlock()

	e, ok := km.entries[key]
	if !ok {
		e = &entry{}
		if km.fair {
			e.ticket = make(chan struct{}, 1)
			e.ticket <- struct{}{}
		}
		km.entries[key] = e
	}
	e.waiters++
	return e
}

// releaseEntry decrements key's waiter count and evicts the entry from the
// map if it has no holders or waiters left - so the map does not grow
// without bound across the lifetime of a long-running KeyedMutex.
func (km *KeyedMutex) releaseEntry(key string, e *entry) {
	km.mu.Lock()
	defer km.mu.Unlock()

	e.waiters--
	if e.waiters == 0 && km.entries[key] == e {
		delete(km.entries, key)
	}
}

// Len returns the number of keys currently tracked (held or waited-on).
// Intended for tests and introspection.
func (km *KeyedMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.entries)
}

package priorate

import (
	"fmt"
	"sync"

	"github.com/priorate/priorate/objpool"
)

// Priority is a caller's admission priority. Larger values are served
// first. LOWEST is the default priority used when a caller doesn't care.
type Priority int

// LOWEST is the default priority: it has no contenders of lower priority,
// so any registered caller is eligible once capacity allows it.
const LOWEST Priority = 1

// bucket is one node of the registry's descending-priority linked list.
// count is always >= 1; a bucket whose count drops to 0 is unlinked
// immediately.
type bucket struct {
	priority Priority
	count    int
	next     *bucket
}

var bucketPool = objpool.New(
	func() *bucket { return &bucket{} },
	func(b *bucket) { *b = bucket{} },
)

// PriorityRegistry is an ordered multiset of pending priorities, sorted
// strictly by descending priority. It is safe for concurrent use.
//
// The representation is a singly-linked list of (priority, count) buckets:
// insertion points are walked anyway during isAmongFirst, and the common
// case has very few distinct priorities pending at once.
type PriorityRegistry struct {
	mu    sync.Mutex
	head  *bucket
	total int
}

// register inserts one occurrence of priority p, maintaining the
// descending-priority invariant.
func (r *PriorityRegistry) register(p Priority) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++

	var prev *bucket
	for b := r.head; b != nil; b = b.next {
		if b.priority == p {
			b.count++
			return
		}
		if b.priority < p {
			break
		}
		prev = b
	}

	nb := bucketPool.Get()
	nb.priority = p
	nb.count = 1

	if prev == nil {
		nb.next = r.head
		r.head = nb
	} else {
		nb.next = prev.next
		prev.next = nb
	}
}

// removeOne removes one occurrence of priority p (from the head-most
// bucket with that priority), dropping the bucket if its count reaches
// zero. It reports whether a removal occurred.
func (r *PriorityRegistry) removeOne(p Priority) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *bucket
	for b := r.head; b != nil; b = b.next {
		if b.priority == p {
			b.count--
			r.total--
			if b.count == 0 {
				if prev == nil {
					r.head = b.next
				} else {
					prev.next = b.next
				}
				bucketPool.Put(b)
			}
			return true
		}
		prev = b
	}
	return false
}

// isAmongFirst reports whether at least one occurrence of priority p lies
// within the first n occurrences, walking head-forward and accumulating
// each bucket's count before p's bucket.
func (r *PriorityRegistry) isAmongFirst(p Priority, n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var seen int
	for b := r.head; b != nil; b = b.next {
		if b.priority == p {
			return seen < n
		}
		seen += b.count
		if seen >= n {
			return false
		}
	}
	return false
}

// topIsLowest reports whether the highest-priority pending bucket has
// priority LOWEST, i.e. there are no higher-priority contenders.
func (r *PriorityRegistry) topIsLowest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head == nil || r.head.priority == LOWEST
}

// totalCount returns the number of outstanding registrations.
func (r *PriorityRegistry) totalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// RegistrySnapshot is one (priority, count) pair from PriorityRegistry.Snapshot.
type RegistrySnapshot struct {
	Priority Priority
	Count    int
}

// Snapshot returns a point-in-time copy of the registry's buckets, for
// introspection and debug tracing. It is not on the admission critical
// path.
func (r *PriorityRegistry) Snapshot() []RegistrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []RegistrySnapshot
	for b := r.head; b != nil; b = b.next {
		out = append(out, RegistrySnapshot{Priority: b.priority, Count: b.count})
	}
	return out
}

// checkInvariant verifies the strictly-descending-priority invariant over a
// snapshot: every bucket count must be positive, and each bucket's priority
// must be strictly less than the one before it. It is a debug-only
// assertion, not called on the hot path, and never panics the caller's
// goroutine - it reports a descriptive error instead, for use from tests.
func (r *PriorityRegistry) checkInvariant() error {
	snap := r.Snapshot()
	for i, s := range snap {
		if s.Count <= 0 {
			return fmt.Errorf("priorate: registry invariant violated: non-positive bucket count: %v", snap)
		}
		if i > 0 && snap[i-1].Priority <= s.Priority {
			return fmt.Errorf("priorate: registry invariant violated: buckets not strictly descending: %v", snap)
		}
	}
	return nil
}

package priorate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityRegistry_RegisterRemoveRoundTrip(t *testing.T) {
	r := &PriorityRegistry{}

	r.register(5)
	before := r.Snapshot()

	r.register(5)
	ok := r.removeOne(5)
	assert.True(t, ok)

	after := r.Snapshot()
	assert.Equal(t, before, after)
	assert.NoError(t, r.checkInvariant())
}

func TestPriorityRegistry_DescendingOrder(t *testing.T) {
	r := &PriorityRegistry{}

	r.register(3)
	r.register(7)
	r.register(1)
	r.register(7)
	r.register(5)

	snap := r.Snapshot()
	if assert.Len(t, snap, 4) {
		assert.Equal(t, []RegistrySnapshot{
			{Priority: 7, Count: 2},
			{Priority: 5, Count: 1},
			{Priority: 3, Count: 1},
			{Priority: 1, Count: 1},
		}, snap)
	}
	assert.NoError(t, r.checkInvariant())
	assert.Equal(t, 5, r.totalCount())
}

func TestPriorityRegistry_RemoveOneDropsEmptyBucket(t *testing.T) {
	r := &PriorityRegistry{}
	r.register(9)

	assert.True(t, r.removeOne(9))
	assert.False(t, r.removeOne(9))
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, 0, r.totalCount())
}

func TestPriorityRegistry_TopIsLowest(t *testing.T) {
	r := &PriorityRegistry{}
	assert.True(t, r.topIsLowest(), "empty registry has no higher-priority contenders")

	r.register(LOWEST)
	assert.True(t, r.topIsLowest())

	r.register(LOWEST + 1)
	assert.False(t, r.topIsLowest())

	r.removeOne(LOWEST + 1)
	assert.True(t, r.topIsLowest())
}

func TestPriorityRegistry_IsAmongFirst(t *testing.T) {
	r := &PriorityRegistry{}
	r.register(10) // 1 occurrence
	r.register(5)  // 1 occurrence
	r.register(5)  // 2 occurrences total
	r.register(1)  // 1 occurrence

	// priority 10 occupies position 0: within any N >= 1.
	assert.True(t, r.isAmongFirst(10, 1))
	assert.False(t, r.isAmongFirst(10, 0))

	// priority 5 starts at position 1 (after the single 10): needs N >= 2.
	assert.False(t, r.isAmongFirst(5, 1))
	assert.True(t, r.isAmongFirst(5, 2))

	// priority 1 starts at position 3 (after 10 and the two 5s): needs N >= 4.
	assert.False(t, r.isAmongFirst(1, 3))
	assert.True(t, r.isAmongFirst(1, 4))

	// for any N >= total_count, isAmongFirst is equivalent to "is present".
	assert.True(t, r.isAmongFirst(1, r.totalCount()))
	assert.False(t, r.isAmongFirst(99, r.totalCount()))
}

func TestPriorityRegistry_RemoveOneDecrementsSharedBucket(t *testing.T) {
	r := &PriorityRegistry{}
	r.register(4) // first registrant at priority 4
	r.register(4) // second registrant at priority 4, same bucket

	assert.True(t, r.removeOne(4))
	snap := r.Snapshot()
	if assert.Len(t, snap, 1) {
		assert.Equal(t, 1, snap[0].Count)
	}
}

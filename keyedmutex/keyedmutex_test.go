package keyedmutex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := New(Config{Capacity: 4})

	var counter int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = km.Locked(context.Background(), "shared", Blocking, func() error {
				n := atomic.AddInt32(&counter, 1)
				if n > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&counter, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxObserved, "same-key critical sections must never overlap")
}

func TestKeyedMutex_DifferentKeysRunConcurrently(t *testing.T) {
	km := New(Config{Capacity: 4})

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_ = km.Locked(context.Background(), key, Blocking, func() error {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, n)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}(key)
	}
	wg.Wait()

	assert.Greater(t, maxObserved, int32(1), "distinct keys should be able to hold their locks concurrently")
}

func TestKeyedMutex_CapacityBoundsTotalHolders(t *testing.T) {
	km := New(Config{Capacity: 2})

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_ = km.Locked(context.Background(), key, Blocking, func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxObserved)
					if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}(key)
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved, int32(2), "total concurrently-held locks must never exceed capacity")
}

func TestKeyedMutex_FailFastReturnsWhenCapacityExhausted(t *testing.T) {
	km := New(Config{Capacity: 1})

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = km.Locked(context.Background(), "a", Blocking, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := km.Locked(context.Background(), "b", FailFast, func() error {
		t.Fatal("action must not run when capacity is exhausted")
		return nil
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	close(release)
}

func TestKeyedMutex_BlockingWaitsForCapacity(t *testing.T) {
	km := New(Config{Capacity: 1})

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = km.Locked(context.Background(), "a", Blocking, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan error, 1)
	go func() {
		done <- km.Locked(context.Background(), "b", Blocking, func() error { return nil })
	}()

	select {
	case <-done:
		t.Fatal("second Locked call should block while capacity is exhausted")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Locked call never completed after capacity freed up")
	}
}

func TestKeyedMutex_ContextCancellationUnblocksWaiter(t *testing.T) {
	km := New(Config{Capacity: 1})

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = km.Locked(context.Background(), "a", Blocking, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := km.Locked(ctx, "b", Blocking, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutex_EvictsUnusedKeys(t *testing.T) {
	km := New(Config{Capacity: 4})

	assert.NoError(t, km.Locked(context.Background(), "transient", Blocking, func() error { return nil }))
	assert.Equal(t, 0, km.Len(), "a key with no holders or waiters left must be evicted")
}

func TestKeyedMutex_FairModeRunsEveryWaiter(t *testing.T) {
	km := New(Config{Capacity: 4, Fair: true})

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = km.Locked(context.Background(), "k", Blocking, func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.Len(t, order, 5)
}

func TestKeyedMutex_PanicsOnNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { New(Config{Capacity: 0}) })
}

func TestKeyedMutex_PanicsOnNilContext(t *testing.T) {
	km := New(Config{Capacity: 1})
	assert.Panics(t, func() {
		_ = km.Locked(nil, "a", Blocking, func() error { return nil }) //nolint:staticcheck
	})
}

package priorate

import (
	"time"

	"go.uber.org/atomic"
)

// Window is a rate-limiting granularity.
type Window int

const (
	// Second is the finest configurable window. At least its cap must be
	// configured (> 0) for a Limiter to be buildable.
	Second Window = iota
	Minute
	Hour

	numWindows = int(Hour) + 1
)

func (w Window) String() string {
	switch w {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	default:
		return "invalid"
	}
}

func (w Window) duration() time.Duration {
	switch w {
	case Second:
		return time.Second
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	default:
		return 0
	}
}

// valid reports whether w is one of the three supported windows.
func (w Window) valid() bool {
	return w >= Second && w <= Hour
}

// CycleTracker holds per-window request counters with rollover on elapsed
// wall-clock time. A window with cap == 0 is unconstrained (never checked,
// never rolled).
//
// available() performs the admission gate as an optimistic, retried,
// multi-counter compare-and-swap: snapshot every configured counter, check
// all caps, then attempt to commit all the increments together. If any
// single counter's CAS loses a race, the increments already committed by
// this attempt are rolled back and the whole snapshot-check-commit cycle
// retries. This mirrors the single-counter CAS loop in a classic Go
// leaky-bucket throttle, generalized to several independent counters that
// must all be incremented-together or not-at-all.
type CycleTracker struct {
	caps   [numWindows]int
	used   [numWindows]*atomic.Int64
	lapsed [numWindows]*atomic.Int64 // UnixNano epoch of the current window, per window
}

// NewCycleTracker constructs a tracker for the given per-window caps (0
// means unconstrained), with every window's epoch initialized to now.
func NewCycleTracker(caps [numWindows]int, now time.Time) *CycleTracker {
	t := &CycleTracker{caps: caps}
	for w := 0; w < numWindows; w++ {
		t.used[w] = atomic.NewInt64(0)
		t.lapsed[w] = atomic.NewInt64(now.UnixNano())
	}
	return t
}

func (t *CycleTracker) configured(w int) bool {
	return t.caps[w] > 0
}

// roll advances any window whose duration has elapsed since its own
// lapsed[w], resetting its counter to 0. Re-entering roll with a
// non-advancing clock is a no-op; rollover is idempotent and monotonic. It
// returns the windows that this call actually rolled (won the CAS for),
// so callers can report a rollover transition exactly once per occurrence
// rather than once per poll.
func (t *CycleTracker) roll(now time.Time) []Window {
	var rolled []Window
	nowNano := now.UnixNano()
	for w := 0; w < numWindows; w++ {
		if !t.configured(w) {
			continue
		}
		size := Window(w).duration()
		for {
			last := t.lapsed[w].Load()
			if nowNano-last < int64(size) {
				break
			}
			if t.lapsed[w].CAS(last, nowNano) {
				t.used[w].Store(0)
				rolled = append(rolled, Window(w))
				break
			}
			// lost the race to another roller; re-check with the winner's stamp
		}
	}
	return rolled
}

// available reports whether every configured window has headroom; if so,
// it atomically increments every configured window's counter and returns
// true. If any configured window is at capacity, no counter is touched and
// it returns false.
func (t *CycleTracker) available() bool {
	for {
		var snapshot [numWindows]int64
		ok := true
		for w := 0; w < numWindows; w++ {
			if !t.configured(w) {
				continue
			}
			snapshot[w] = t.used[w].Load()
			if snapshot[w] >= int64(t.caps[w]) {
				ok = false
			}
		}
		if !ok {
			return false
		}

		committed := 0
		raced := false
		for w := 0; w < numWindows; w++ {
			if !t.configured(w) {
				continue
			}
			if !t.used[w].CAS(snapshot[w], snapshot[w]+1) {
				raced = true
				break
			}
			committed++
		}

		if !raced {
			return true
		}

		// roll back whatever we did manage to commit this attempt, and retry
		// against a fresh snapshot.
		w := 0
		for committed > 0 {
			if t.configured(w) {
				t.used[w].Sub(1)
				committed--
			}
			w++
		}
	}
}

// leftover returns the tightest remaining headroom across every configured
// window: min(cap[w]-used[w]) over windows with cap[w] > 0. It is consumed
// by PriorityRegistry.isAmongFirst to decide how many pending callers may
// still be admitted this cycle.
func (t *CycleTracker) leftover() int {
	min := -1
	for w := 0; w < numWindows; w++ {
		if !t.configured(w) {
			continue
		}
		remaining := t.caps[w] - int(t.used[w].Load())
		if remaining < 0 {
			remaining = 0
		}
		if min == -1 || remaining < min {
			min = remaining
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// lapsedSecond returns the epoch of the current SECOND-window, so callers
// can sleep until the next window boundary.
func (t *CycleTracker) lapsedSecond() time.Time {
	return time.Unix(0, t.lapsed[Second].Load())
}

// WindowStat is a point-in-time snapshot of one window's accounting, for
// introspection and debug tracing.
type WindowStat struct {
	Window Window
	Cap    int
	Used   int
}

// Stats returns a snapshot of every configured window.
func (t *CycleTracker) Stats() []WindowStat {
	var out []WindowStat
	for w := 0; w < numWindows; w++ {
		if !t.configured(w) {
			continue
		}
		out = append(out, WindowStat{Window: Window(w), Cap: t.caps[w], Used: int(t.used[w].Load())})
	}
	return out
}

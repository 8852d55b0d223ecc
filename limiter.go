package priorate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// NoTimeout is the sentinel default timeout meaning "no deadline": Acquire
// blocks until admitted or its context is cancelled. It is Builder's default
// and is also accepted as a per-call timeout; any other negative per-call
// timeout is treated as 0.
const NoTimeout time.Duration = -1

// Limiter is the admission engine: it composes a PriorityRegistry and a
// CycleTracker under a monitor, and implements the blocking Acquire
// protocol with priority, timeout, and cancellation semantics.
//
// Construct one with a Builder; the zero value is not usable.
type Limiter struct {
	registry *PriorityRegistry
	tracker  *CycleTracker

	defaultTimeout time.Duration
	priorityFloor  Priority
	priorityCap    Priority // 0 means uncapped

	logger *zerolog.Logger
	trace  *traceRing
	clock  func() time.Time

	mu   sync.Mutex
	wake chan struct{}
}

func newLimiter(caps [numWindows]int, cfg builderConfig, now time.Time) *Limiter {
	l := &Limiter{
		registry:       &PriorityRegistry{},
		tracker:        NewCycleTracker(caps, now),
		defaultTimeout: cfg.timeout,
		priorityFloor:  cfg.priorityFloor,
		priorityCap:    cfg.priorityCap,
		logger:         cfg.logger,
		trace:          newTraceRing(cfg.traceCapacity),
		clock:          cfg.clock,
		wake:           make(chan struct{}),
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	return l
}

// Acquire blocks until admitted using LOWEST priority and the Limiter's
// default timeout (infinite, unless Builder.WithTimeout configured one).
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.acquire(ctx, l.priorityFloor, l.defaultTimeout)
}

// AcquirePriority blocks until admitted at the given priority, using the
// Limiter's default timeout.
func (l *Limiter) AcquirePriority(ctx context.Context, priority Priority) error {
	return l.acquire(ctx, priority, l.defaultTimeout)
}

// AcquireTimeout blocks until admitted at LOWEST priority, or until timeout
// elapses. A timeout of 0 means "try once, non-blocking".
func (l *Limiter) AcquireTimeout(ctx context.Context, timeout time.Duration) error {
	return l.acquire(ctx, l.priorityFloor, timeout)
}

// AcquireWithOptions blocks until admitted at the given priority, or until
// timeout elapses. A timeout of 0 means "try once, non-blocking".
func (l *Limiter) AcquireWithOptions(ctx context.Context, priority Priority, timeout time.Duration) error {
	return l.acquire(ctx, priority, timeout)
}

// RecentEvents returns the Limiter's debug trace: the most recent
// register/admit/timeout/cancel/rollover transitions, oldest first. Its capacity is
// configured via Builder.WithTraceCapacity, and is 0 (disabled) by default.
func (l *Limiter) RecentEvents() []Event {
	return l.trace.snapshot()
}

// WindowStats returns a point-in-time snapshot of every configured window's
// cap/used accounting, for introspection.
func (l *Limiter) WindowStats() []WindowStat {
	return l.tracker.Stats()
}

// clampPriority enforces priorityFloor/priorityCap on caller-supplied
// priorities, rather than rejecting them: values below LOWEST (or the
// configured floor) are raised to the floor, and values above a configured
// cap are lowered to it.
func (l *Limiter) clampPriority(p Priority) Priority {
	if p < l.priorityFloor {
		return l.priorityFloor
	}
	if l.priorityCap > 0 && p > l.priorityCap {
		return l.priorityCap
	}
	return p
}

// waitChan returns the current broadcast channel. Any goroutine holding a
// reference to the channel returned here will unblock the next time
// broadcast closes it. This is the monitor's "condition variable": closing
// a channel wakes every waiter, after which the channel is replaced so
// future waiters block on the new generation.
func (l *Limiter) waitChan() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wake
}

func (l *Limiter) broadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	close(l.wake)
	l.wake = make(chan struct{})
}

func (l *Limiter) acquire(ctx context.Context, priority Priority, timeout time.Duration) error {
	if ctx == nil {
		panic("priorate: nil context")
	}
	if timeout < 0 && timeout != NoTimeout {
		timeout = 0
	}
	priority = l.clampPriority(priority)

	t0 := l.clock()
	l.registry.register(priority)
	l.traceAndLog(Event{Kind: EventRegistered, Priority: priority, At: t0})

	deregistered := false
	defer func() {
		if !deregistered {
			l.registry.removeOne(priority)
		}
	}()

	// only the sentinel value itself means no deadline; any non-negative
	// timeout (including 0, "try once") is a real deadline.
	infinite := timeout == NoTimeout
	deadline := t0.Add(timeout)

	for {
		now := l.clock()
		for _, w := range l.tracker.roll(now) {
			l.traceAndLog(Event{Kind: EventRolledOver, Window: w, At: now})
		}

		leftover := l.tracker.leftover()
		eligible := l.registry.topIsLowest() || l.registry.isAmongFirst(priority, leftover)

		if eligible && l.tracker.available() {
			l.registry.removeOne(priority)
			deregistered = true
			l.traceAndLog(Event{Kind: EventAdmitted, Priority: priority, At: now, Waited: now.Sub(t0)})
			l.broadcast()
			return nil
		}

		if !infinite && now.Sub(t0) >= timeout {
			l.traceAndLog(Event{Kind: EventTimedOut, Priority: priority, At: now, Waited: now.Sub(t0)})
			return ErrTimeout
		}

		waitDur := time.Millisecond
		if boundaryWait := l.tracker.lapsedSecond().Add(time.Second).Sub(now); boundaryWait > waitDur {
			waitDur = boundaryWait
		}
		if !infinite {
			if remain := deadline.Sub(now); remain < waitDur {
				waitDur = remain
				if waitDur < 0 {
					waitDur = 0
				}
			}
		}

		wake := l.waitChan()
		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			cancelledAt := l.clock()
			l.traceAndLog(Event{Kind: EventCancelled, Priority: priority, At: cancelledAt, Waited: cancelledAt.Sub(t0)})
			return ErrCancelled
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *Limiter) traceAndLog(e Event) {
	l.trace.push(e)
	if l.logger == nil {
		return
	}
	ev := l.logger.Debug()
	if !ev.Enabled() {
		return
	}
	ev.Str("kind", e.Kind.String()).
		Int("priority", int(e.Priority)).
		Str("window", e.Window.String()).
		Dur("waited", e.Waited).
		Msg("priorate: acquire transition")
}

package priorate

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// builderConfig holds the options accumulated by Builder, separate from
// the validated rate map so Build can validate everything in one place.
type builderConfig struct {
	timeout       time.Duration
	priorityFloor Priority
	priorityCap   Priority
	logger        *zerolog.Logger
	traceCapacity int
	clock         func() time.Time
}

// Builder validates and assembles Limiter configuration. Accumulate
// options with the With* methods, then call Build.
//
// The zero value is not usable; construct one with NewBuilder.
type Builder struct {
	rates map[Window]int
	cfg   builderConfig
}

// NewBuilder returns a Builder with no rates configured and an infinite
// default timeout.
func NewBuilder() *Builder {
	return &Builder{
		rates: make(map[Window]int),
		cfg: builderConfig{
			timeout:       NoTimeout,
			priorityFloor: LOWEST,
			traceCapacity: 0,
		},
	}
}

// WithRate configures the maximum number of admissions permitted within
// one window of the given granularity. Calling WithRate again for the same
// window replaces its rate.
func (b *Builder) WithRate(rate int, window Window) *Builder {
	b.rates[window] = rate
	return b
}

// WithTimeout configures the default timeout used by Acquire and
// AcquirePriority, when no Acquire-level timeout overrides it. Must be
// positive; an unconfigured Builder defaults to no deadline (infinite).
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.cfg.timeout = d
	return b
}

// WithPriorityFloor sets the minimum priority: Acquire calls at a lower
// priority are clamped up to this floor. Defaults to LOWEST.
func (b *Builder) WithPriorityFloor(p Priority) *Builder {
	b.cfg.priorityFloor = p
	return b
}

// WithPriorityCap sets the maximum priority: Acquire calls at a higher
// priority are clamped down to this cap. A cap of 0 (the default) means
// uncapped.
func (b *Builder) WithPriorityCap(p Priority) *Builder {
	b.cfg.priorityCap = p
	return b
}

// WithLogger configures a zerolog logger for debug-level tracing of
// registration/admission/rollover/timeout/cancellation. Off by default: a
// nil logger (the default) makes tracing a no-op.
func (b *Builder) WithLogger(logger *zerolog.Logger) *Builder {
	b.cfg.logger = logger
	return b
}

// WithTraceCapacity configures how many recent Events Limiter.RecentEvents
// retains. 0 (the default) disables the trace ring entirely.
func (b *Builder) WithTraceCapacity(n int) *Builder {
	b.cfg.traceCapacity = n
	return b
}

// withClock overrides the Limiter's time source. Unexported: it exists for
// this package's own deterministic tests, not for callers.
func (b *Builder) withClock(clock func() time.Time) *Builder {
	b.cfg.clock = clock
	return b
}

// Build validates the accumulated configuration and returns a ready-to-use
// Limiter. Validation failures are reported via a wrapped ErrInvalidConfig;
// Build never panics on caller input.
func (b *Builder) Build() (*Limiter, error) {
	if len(b.rates) == 0 {
		return nil, fmt.Errorf("%w: no rates configured", ErrInvalidConfig)
	}

	var caps [numWindows]int
	for w, rate := range b.rates {
		if !w.valid() {
			return nil, fmt.Errorf("%w: unsupported window %d", ErrInvalidConfig, w)
		}
		if rate <= 0 {
			return nil, fmt.Errorf("%w: rate for %s must be positive, got %d", ErrInvalidConfig, w, rate)
		}
		caps[w] = rate
	}

	if caps[Second] <= 0 {
		return nil, fmt.Errorf("%w: SECOND-level rate is required", ErrInvalidConfig)
	}

	if err := checkMonotonic(b.rates); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	if b.cfg.timeout != NoTimeout && b.cfg.timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, b.cfg.timeout)
	}

	if b.cfg.priorityFloor < LOWEST {
		return nil, fmt.Errorf("%w: priority floor must be >= LOWEST (%d), got %d", ErrInvalidConfig, LOWEST, b.cfg.priorityFloor)
	}
	if b.cfg.priorityCap != 0 && b.cfg.priorityCap < b.cfg.priorityFloor {
		return nil, fmt.Errorf("%w: priority cap %d is below priority floor %d", ErrInvalidConfig, b.cfg.priorityCap, b.cfg.priorityFloor)
	}

	clock := b.cfg.clock
	if clock == nil {
		clock = time.Now
	}

	return newLimiter(caps, b.cfg, clock()), nil
}

// checkMonotonic requires that a shorter window's cap never exceed a
// longer window's cap, and that the effective rate (cap/duration) never
// increase for a longer window: a coarser window can only ever be as
// permissive, or more restrictive, than every window nested inside it. A
// window absent from rates is simply skipped.
func checkMonotonic(rates map[Window]int) error {
	windows := make([]Window, 0, len(rates))
	for w := range rates {
		windows = append(windows, w)
	}
	slices.Sort(windows)

	for i, w := range windows {
		if i == 0 {
			continue
		}
		prev := windows[i-1]
		if rates[w] < rates[prev] {
			return fmt.Errorf("window %s (cap %d) is tighter than shorter window %s (cap %d)", w, rates[w], prev, rates[prev])
		}
		effectivePrev := float64(rates[prev]) / float64(prev.duration())
		effectiveCur := float64(rates[w]) / float64(w.duration())
		if effectiveCur > effectivePrev {
			return fmt.Errorf("window %s's effective rate exceeds shorter window %s's", w, prev)
		}
	}
	return nil
}

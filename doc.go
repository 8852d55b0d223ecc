// Package priorate implements a synchronous, in-process, priority-aware,
// multi-window admission limiter.
//
// Callers block in Acquire until they are admitted, their timeout elapses,
// or their context is cancelled. Admission is governed by two collaborating
// components: a PriorityRegistry tracking pending callers ordered by
// priority (higher priorities win; callers of equal priority are counted
// together and are not ordered among themselves), and a
// CycleTracker replicating a throughput counter across independently
// rolling second/minute/hour windows.
//
// The limiter is strictly intra-process: it does not persist counters
// across restarts and does not coordinate across processes or hosts. A
// caller's priority is registered exactly once per Acquire call and
// deregistered exactly once, whether the call succeeds, times out, or is
// cancelled.
package priorate

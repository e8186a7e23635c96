// Package breaker implements the circuit-breaker registry (spec.md
// §4.3, C5): a per-upstream sharded map from model group to breaker
// state, with closed/open/half-open transitions and exponentially
// growing open windows.
//
// Grounded on the teacher's pkg/internal/retry.Config (exponential
// backoff with multiplier/jitter) for the windowing shape, generalized
// here from a single retry loop's delay sequence into a per-entry
// state machine with a fixed window table, and on the breaker-sharding
// idiom named explicitly in spec.md §9 ("one RW lock per upstream").
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// openWindows is the exponential sequence of open-state durations for
// successive trips of the same entry: 5s, 15s, 45s, 120s, then stays
// at 120s for any further consecutive trip.
var openWindows = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	120 * time.Second,
}

const failureThreshold = 5

// evictSweepThreshold triggers a periodic sweep of a shard once it
// holds more entries than this, per spec §3 BreakerState lifecycle.
const evictSweepThreshold = 256

type state struct {
	mu                sync.Mutex
	consecutiveFails  int
	openUntil         time.Time
	halfOpenInFlight  bool
	tripCount         int // drives window selection; reset to 0 on close
}

// shard is one upstream's model_group → state map, guarded by its own
// RW lock so the happy path (closed, no entries) never contends with
// another upstream's breaker traffic.
type shard struct {
	mu      sync.RWMutex
	entries map[string]*state
}

// Registry is the process-wide breaker registry, sharded per upstream
// index. AppState owns exactly one Registry for the process lifetime
// (spec §5 "Global mutable state").
type Registry struct {
	shards []*shard

	// anyEntries is the process-wide atomic counter of live breaker
	// entries across all shards. When it is zero, Check and Peek return
	// Allow without acquiring any shard lock — the documented
	// lock-free fast path for the no-failures happy path (spec §9).
	anyEntries atomic.Int64

	now func() time.Time // overridable for tests
}

// New builds a registry with one shard per upstream.
func New(upstreamCount int) *Registry {
	r := &Registry{
		shards: make([]*shard, upstreamCount),
		now:    time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*state)}
	}
	return r
}

func (r *Registry) shardFor(upstreamIndex int) *shard {
	return r.shards[upstreamIndex]
}

// Decision is what the routing layer does with a candidate after
// consulting the breaker.
type Decision int

const (
	Allow Decision = iota
	// AllowAsProbe means this request was admitted specifically as the
	// single half-open probe; its outcome must be reported.
	AllowAsProbe
	Deny
)

// Check consults the breaker for (upstreamIndex, model) without
// mutating any half-open flag besides claiming the probe slot when
// applicable.
func (r *Registry) Check(upstreamIndex int, model string) Decision {
	if r.anyEntries.Load() == 0 {
		return Allow
	}

	sh := r.shardFor(upstreamIndex)
	sh.mu.RLock()
	st, ok := sh.entries[model]
	sh.mu.RUnlock()
	if !ok {
		return Allow
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.openUntil.IsZero() {
		// Never opened: failures so far are below the threshold, so the
		// breaker is still closed.
		return Allow
	}
	now := r.now()
	if now.Before(st.openUntil) {
		return Deny
	}
	if st.halfOpenInFlight {
		// Another request already owns the probe slot; everyone else
		// still sees the breaker as open until that probe resolves.
		return Deny
	}
	st.halfOpenInFlight = true
	return AllowAsProbe
}

// Peek reports what Check would currently return for (upstreamIndex,
// model) without claiming the half-open probe slot. Used for the
// partition step over a whole candidate ring, where most candidates
// are never attempted — claiming a probe slot for one of those would
// leak it forever, since only RecordSuccess/RecordFailure release it.
// Callers that go on to actually attempt a candidate must still call
// Check immediately before the attempt to claim the slot for real.
func (r *Registry) Peek(upstreamIndex int, model string) Decision {
	if r.anyEntries.Load() == 0 {
		return Allow
	}

	sh := r.shardFor(upstreamIndex)
	sh.mu.RLock()
	st, ok := sh.entries[model]
	sh.mu.RUnlock()
	if !ok {
		return Allow
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.openUntil.IsZero() {
		return Allow
	}
	now := r.now()
	if now.Before(st.openUntil) {
		return Deny
	}
	if st.halfOpenInFlight {
		return Deny
	}
	return AllowAsProbe
}

// RecordSuccess closes and evicts the entry for (upstreamIndex, model)
// if one exists. A single success clears the breaker entirely (spec
// §4.3: "Success → closed (entry removed)").
func (r *Registry) RecordSuccess(upstreamIndex int, model string) {
	sh := r.shardFor(upstreamIndex)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[model]; ok {
		delete(sh.entries, model)
		r.anyEntries.Add(-1)
	}
}

// RecordFailure increments the consecutive-failure count for
// (upstreamIndex, model), lazily creating the entry, and opens the
// breaker once the threshold is reached. A failure while a half-open
// probe was in flight re-opens with the next longer window.
func (r *Registry) RecordFailure(upstreamIndex int, model string) {
	sh := r.shardFor(upstreamIndex)

	sh.mu.Lock()
	st, ok := sh.entries[model]
	if !ok {
		st = &state{}
		sh.entries[model] = st
		r.anyEntries.Add(1)
	}
	needsSweep := len(sh.entries) > evictSweepThreshold
	sh.mu.Unlock()

	st.mu.Lock()
	wasHalfOpenProbe := st.halfOpenInFlight
	st.halfOpenInFlight = false
	st.consecutiveFails++

	if wasHalfOpenProbe || st.consecutiveFails >= failureThreshold {
		st.openUntil = r.now().Add(windowFor(st.tripCount))
		st.tripCount++
		st.consecutiveFails = 0
	}
	st.mu.Unlock()

	if needsSweep {
		r.sweep(upstreamIndex)
	}
}

func windowFor(tripCount int) time.Duration {
	if tripCount >= len(openWindows) {
		return openWindows[len(openWindows)-1]
	}
	return openWindows[tripCount]
}

// sweep removes closed, non-failing entries once a shard grows past
// evictSweepThreshold, per spec §3's periodic-sweep eviction rule.
func (r *Registry) sweep(upstreamIndex int) {
	sh := r.shardFor(upstreamIndex)
	now := r.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	for model, st := range sh.entries {
		st.mu.Lock()
		idle := st.consecutiveFails == 0 && now.After(st.openUntil) && !st.halfOpenInFlight
		st.mu.Unlock()
		if idle {
			delete(sh.entries, model)
			r.anyEntries.Add(-1)
		}
	}
}

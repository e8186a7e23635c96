// Package fcpolicy implements the FC (function-calling) policy cache
// (spec.md §4.4, C6): a per-upstream mode plus a TTL'd auto-inject
// memo recording that an `Auto` upstream has already been found to
// reject native tool calling for a given model, so later requests for
// that pair go straight to inject mode.
//
// Grounded on the teacher's pkg/telemetry.Settings copy-on-write
// builder idiom for the immutable-per-request Decision value, and on
// the breaker package's per-upstream sharding for the memo's lock
// discipline (spec §9: "per-upstream RW lock on the dynamic hashmap").
package fcpolicy

import (
	"sync"
	"time"
)

// Mode is the configured FC mode for one upstream.
type Mode int

const (
	Native Mode = iota
	Inject
	Auto
)

// Decision is the immutable-within-a-request-attempt FcDecision from
// spec.md §3.
type Decision struct {
	FcActive            bool
	AutoFallbackAllowed bool
}

const memoTTL = 15 * time.Minute
const memoEvictThreshold = 128

type memoEntry struct {
	expiresAt time.Time
}

type upstreamMemo struct {
	mu      sync.RWMutex
	entries map[string]memoEntry
}

// Policy is the process-wide FC policy cache. One instance lives on
// AppState for the process lifetime.
type Policy struct {
	modes                   []Mode
	enableFunctionCalling   bool
	memos                   []*upstreamMemo
	now                     func() time.Time
}

// New builds a policy from the configured per-upstream fc_mode list.
// enableFunctionCalling is the global features.enable_function_calling
// flag; when false, every upstream behaves as Native regardless of its
// configured mode (spec §4.4).
func New(modes []Mode, enableFunctionCalling bool) *Policy {
	p := &Policy{
		modes:                 modes,
		enableFunctionCalling: enableFunctionCalling,
		memos:                 make([]*upstreamMemo, len(modes)),
		now:                   time.Now,
	}
	for i := range p.memos {
		p.memos[i] = &upstreamMemo{entries: make(map[string]memoEntry)}
	}
	return p
}

func (p *Policy) effectiveMode(upstreamIndex int) Mode {
	if !p.enableFunctionCalling {
		return Native
	}
	return p.modes[upstreamIndex]
}

// Decide computes the FcDecision for (upstreamIndex, model), per the
// decision table in spec.md §4.4.
func (p *Policy) Decide(upstreamIndex int, model string, hasTools bool) Decision {
	if !hasTools {
		return Decision{FcActive: false, AutoFallbackAllowed: false}
	}

	switch p.effectiveMode(upstreamIndex) {
	case Inject:
		return Decision{FcActive: true, AutoFallbackAllowed: false}
	default: // Native or Auto
		return Decision{FcActive: p.memoHit(upstreamIndex, model), AutoFallbackAllowed: true}
	}
}

func (p *Policy) memoHit(upstreamIndex int, model string) bool {
	m := p.memos[upstreamIndex]
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[model]
	if !ok {
		return false
	}
	return p.now().Before(entry.expiresAt)
}

// MarkAutoInject records that native tool calling was just found
// unsupported on (upstreamIndex, model), so subsequent Decide calls
// for the same pair return fc_active=true for the next 15 minutes.
func (p *Policy) MarkAutoInject(upstreamIndex int, model string) {
	m := p.memos[upstreamIndex]
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[model] = memoEntry{expiresAt: p.now().Add(memoTTL)}
	if len(m.entries) > memoEvictThreshold {
		p.purgeStaleLocked(m)
	}
}

// purgeStaleLocked drops expired entries once the map exceeds the
// eviction threshold. Caller must hold m.mu for writing.
func (p *Policy) purgeStaleLocked(m *upstreamMemo) {
	now := p.now()
	for model, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, model)
		}
	}
}

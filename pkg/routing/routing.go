// Package routing implements the routing policy (spec.md §4.5, C7):
// it combines the model router's candidate ring with circuit-breaker
// state and session-class detection to produce the final per-request
// candidate order.
//
// Grounded on the teacher's composition style in
// pkg/registry/registry.go (ResolveLanguageModel chaining alias
// resolution with provider lookup) generalized here into a four-way
// partition-then-concatenate composition over allowed/blocked and
// same/cross-provider candidates.
package routing

import (
	"bytes"

	"github.com/relaygate/llmgateway/pkg/breaker"
	"github.com/relaygate/llmgateway/pkg/ir"
	"github.com/relaygate/llmgateway/pkg/probe"
	"github.com/relaygate/llmgateway/pkg/router"
)

// SessionClass classifies whether a request's session state is bound
// to a single upstream provider.
type SessionClass int

const (
	// Portable sessions (stateless messages/input payloads) can move
	// freely between providers on failover.
	Portable SessionClass = iota
	// Anchored sessions carry a server-side handle
	// (previous_response_id/thread_id/session_id/conversation_id) that
	// only the originating provider understands.
	Anchored
)

var anchorFields = map[string]bool{
	"previous_response_id": true,
	"thread_id":             true,
	"session_id":            true,
	"conversation_id":       true,
}

// ClassifySession scans body for the four anchor field names. Any
// present, non-null value makes the request Anchored.
func ClassifySession(body []byte) SessionClass {
	fields, ok := probe.ScanTopLevelFields(body, anchorFields)
	if !ok {
		return Portable
	}
	for _, r := range fields {
		if !probe.IsJSONNull(body, r) {
			return Anchored
		}
	}
	return Portable
}

// Policy composes the model router, the breaker registry, and a
// per-upstream provider-kind table into the final candidate order.
type Policy struct {
	router           *router.Router
	breakers         *breaker.Registry
	upstreamProvider []ir.ProviderKind
}

func New(r *router.Router, b *breaker.Registry, upstreamProvider []ir.ProviderKind) *Policy {
	return &Policy{router: r, breakers: b, upstreamProvider: upstreamProvider}
}

// Candidate is one ordered route with its breaker admission decision
// already attached, since computing it requires the same shard lookup
// the caller would otherwise repeat.
type Candidate struct {
	Route    router.Route
	Decision breaker.Decision
}

// Resolve implements the four-way partition of spec.md §4.5 step 4.
// When the model resolves to a single candidate, it is returned alone
// (no hash needed — the router's ResolveIfSingleCandidate fast path is
// used internally and the caller does not need to have computed a
// sticky hash for this case).
//
// The Decision attached to each Candidate here comes from the
// registry's non-mutating Peek, not Check: most candidates in a ring
// are never attempted, and Check claims the half-open probe slot as a
// side effect that only an actual attempt's RecordSuccess/RecordFailure
// releases. Claiming it for a candidate that is merely passed over
// during partitioning would wedge that (upstream, model) pair's probe
// slot forever. The caller must call Check itself, right before
// attempting whichever candidate it selects, to claim the slot for
// real.
func (p *Policy) Resolve(model string, requestHash uint64, class SessionClass) ([]Candidate, error) {
	if route, ok, err := p.router.ResolveIfSingleCandidate(model); err != nil {
		return nil, err
	} else if ok {
		return []Candidate{{Route: route, Decision: p.breakers.Peek(route.UpstreamIndex, route.Model)}}, nil
	}

	ring, err := p.router.ResolveOrdered(model, requestHash)
	if err != nil {
		return nil, err
	}
	if len(ring) == 0 {
		return nil, router.ErrUnknownModel
	}

	anchor := p.upstreamProvider[ring[0].UpstreamIndex]

	var sameAllowed, sameBlocked, crossAllowed, crossBlocked []Candidate
	for _, rt := range ring {
		c := Candidate{Route: rt, Decision: p.breakers.Peek(rt.UpstreamIndex, rt.Model)}
		same := p.upstreamProvider[rt.UpstreamIndex] == anchor
		allowed := c.Decision != breaker.Deny
		switch {
		case same && allowed:
			sameAllowed = append(sameAllowed, c)
		case same && !allowed:
			sameBlocked = append(sameBlocked, c)
		case !same && allowed:
			crossAllowed = append(crossAllowed, c)
		default:
			crossBlocked = append(crossBlocked, c)
		}
	}

	out := make([]Candidate, 0, len(ring))
	switch class {
	case Anchored:
		out = append(out, sameAllowed...)
		out = append(out, sameBlocked...)
		out = append(out, crossAllowed...)
		out = append(out, crossBlocked...)
	default: // Portable
		out = append(out, sameAllowed...)
		out = append(out, crossAllowed...)
		out = append(out, sameBlocked...)
		out = append(out, crossBlocked...)
	}
	return out, nil
}

// PromptPrefix extracts up to 256 whitespace-trimmed bytes for the
// sticky-hash input, preferring the messages range when already known
// from a probe.Result, else falling back to a top-level scan of
// input/messages/contents/prompt, else the whole body.
func PromptPrefix(body []byte, messagesRange probe.Range) []byte {
	var src []byte
	if !messagesRange.Empty() {
		src = messagesRange.Slice(body)
	} else {
		fields, ok := probe.ScanTopLevelFields(body, map[string]bool{
			"input": true, "messages": true, "contents": true, "prompt": true,
		})
		if ok {
			for _, key := range []string{"input", "messages", "contents", "prompt"} {
				if r, present := fields[key]; present {
					src = r.Slice(body)
					break
				}
			}
		}
		if src == nil {
			src = body
		}
	}
	src = bytes.TrimSpace(src)
	if len(src) > 256 {
		src = src[:256]
	}
	return src
}

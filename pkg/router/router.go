// Package router implements the model router (spec.md §4.2, C4):
// indexing every configured `alias:real_model` entry into an ordered
// candidate list per requested model name, and producing either an
// O(1) single-candidate resolution or a deterministic hash-ordered
// ring for alias groups with multiple upstreams.
//
// Grounded on the teacher's pkg/registry.Registry (providers map +
// aliases map + parseModelString "provider:model" splitting) — this
// router generalizes that single-provider alias table into a
// multi-upstream ring with sticky ordering, which the teacher's
// registry has no equivalent of.
package router

import "fmt"

// Route identifies one candidate: which configured upstream to use and
// which real (non-aliased) model name to send it.
type Route struct {
	UpstreamIndex int
	Model         string
}

// Router is immutable after Build; safe for concurrent read-only use
// from every request goroutine, matching the teacher's global registry
// singleton's read path.
type Router struct {
	groups map[string][]Route
}

// UpstreamModels is the per-upstream slice of `models[]` entries from
// config, each either "real_model" or "alias:real_model".
type UpstreamModels struct {
	UpstreamIndex int
	Entries       []string
}

// Build deconstructs every upstream's models[] entries into (alias,
// real_model) or (real_model, real_model) pairs and inserts them into
// the requested-name → ordered-candidates index. Real model names are
// reused (Go string interning is automatic for identical literals
// already resident in the binary/heap via the compiler and GC; no
// separate interner is needed the way a non-GC'd host language would
// require one — see DESIGN.md).
func Build(upstreams []UpstreamModels) (*Router, error) {
	groups := make(map[string][]Route)
	plainModelNames := make(map[string]bool)

	for _, u := range upstreams {
		for _, entry := range u.Entries {
			alias, real, err := splitEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("router: upstream %d: %w", u.UpstreamIndex, err)
			}
			if alias == real {
				plainModelNames[real] = true
			}
		}
	}

	for _, u := range upstreams {
		for _, entry := range u.Entries {
			alias, real, _ := splitEntry(entry)
			if alias != real && plainModelNames[alias] {
				return nil, fmt.Errorf("router: alias %q collides with a plain model name", alias)
			}
			groups[alias] = append(groups[alias], Route{UpstreamIndex: u.UpstreamIndex, Model: real})
		}
	}

	return &Router{groups: groups}, nil
}

func splitEntry(entry string) (alias, real string, err error) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == ':' {
			alias, real = entry[:i], entry[i+1:]
			if alias == "" || real == "" {
				return "", "", fmt.Errorf("empty alias or real_model part in %q", entry)
			}
			return alias, real, nil
		}
	}
	if entry == "" {
		return "", "", fmt.Errorf("empty model entry")
	}
	return entry, entry, nil
}

// ErrUnknownModel is returned when a requested model matches no
// configured alias or real model name.
var ErrUnknownModel = fmt.Errorf("router: unknown model")

// ResolveIfSingleCandidate is the O(1) fast path: it returns a route
// and true when the group has exactly one candidate, a zero route and
// false when the group has ≥2 candidates (the caller must fall
// through to ResolveOrdered), and ErrUnknownModel when the model is
// not configured at all.
func (r *Router) ResolveIfSingleCandidate(model string) (Route, bool, error) {
	routes, ok := r.groups[model]
	if !ok {
		return Route{}, false, ErrUnknownModel
	}
	if len(routes) == 1 {
		return routes[0], true, nil
	}
	return Route{}, false, nil
}

// RequiresRequestHashForOrdering reports whether model resolves to an
// alias group with ≥2 candidates, letting the engine skip the sticky
// hash computation entirely for single-candidate requests.
func (r *Router) RequiresRequestHashForOrdering(model string) bool {
	routes, ok := r.groups[model]
	return ok && len(routes) >= 2
}

// ResolveOrdered returns a deterministic ring of candidates for model,
// rotated so the start index is mix64(requestHash) mod len(candidates)
// — the same client+prompt sticks to the same upstream until it fails
// over. Candidates sharing an UpstreamIndex are collapsed, first
// occurrence (in rotated order) wins, using a fixed-size bitset for
// O(N) dedup.
func (r *Router) ResolveOrdered(model string, requestHash uint64) ([]Route, error) {
	routes, ok := r.groups[model]
	if !ok {
		return nil, ErrUnknownModel
	}
	if len(routes) == 0 {
		return nil, ErrUnknownModel
	}

	n := len(routes)
	start := int(mix64(requestHash) % uint64(n))

	seen := newBitset(maxUpstreamIndex(routes) + 1)
	out := make([]Route, 0, n)
	for i := 0; i < n; i++ {
		rt := routes[(start+i)%n]
		if seen.testAndSet(rt.UpstreamIndex) {
			continue
		}
		out = append(out, rt)
	}
	return out, nil
}

func maxUpstreamIndex(routes []Route) int {
	max := 0
	for _, r := range routes {
		if r.UpstreamIndex > max {
			max = r.UpstreamIndex
		}
	}
	return max
}

// mix64 is the splitmix64 finalizer, used to spread a sticky hash
// across the candidate ring without biasing toward low bits.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// bitset is a dense, fixed-size bit array sized to the number of
// configured upstreams — small in practice (tens, not millions) — so
// a []uint64 word array keeps dedup at O(N) without a map.
type bitset struct {
	words []uint64
}

func newBitset(n int) *bitset {
	return &bitset{words: make([]uint64, (n+63)/64+1)}
}

// testAndSet reports whether bit i was already set, and sets it.
func (b *bitset) testAndSet(i int) bool {
	word, bit := i/64, uint(i%64)
	was := b.words[word]&(1<<bit) != 0
	b.words[word] |= 1 << bit
	return was
}

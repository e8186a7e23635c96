// Package probe implements the fast JSON probe (spec.md §4.1, C2): a
// single linear scan over a request body that extracts byte ranges for
// routing-relevant top-level fields without fully parsing the JSON.
//
// Grounded on the teacher's own "avoid reparsing what you don't need"
// idiom (pkg/provider/types ArgumentsRawJSON keeps tool-call arguments
// as opaque bytes) generalized here to the whole request body.
package probe

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// missGroup collapses concurrent cache misses for byte-identical
// bodies into one scan, so N goroutines racing in with the same
// never-before-seen request (a thundering-herd retry storm hitting an
// identical payload) pay the scan cost once rather than N times.
var missGroup singleflight.Group

// Range is a byte range into the original request body. It is only
// valid while the body it was computed from is kept alive.
type Range struct {
	Start, End int
}

func (r Range) Empty() bool { return r.Start == r.End }

func (r Range) Slice(body []byte) []byte { return body[r.Start:r.End] }

// Result is everything the engine needs out of one probe pass.
type Result struct {
	Model       string
	HasStream   bool // whether a top-level "stream" field was found
	Stream      bool // value of "stream" when HasStream; false ("null"/absent treated as non-stream per spec §4.7)
	HasTools    bool
	ModelRange  Range
	StreamRange Range
	ToolsRange  Range
	ChoiceRange Range
	MsgRange    Range
	BodyHash    uint64
}

// ParseProbe extracts routing fields from body. Only "model" is
// mandatory; a missing/malformed model falls back to a full JSON parse
// and, failing that, surfaces ErrInvalid.
func ParseProbe(body []byte) (*Result, error) {
	if cached, ok := cacheGet(body); ok {
		return cached, nil
	}

	key := strconv.FormatUint(sampledHash(body), 36)
	_, err, _ := missGroup.Do(key, func() (any, error) {
		if _, ok := cacheGet(body); ok {
			return nil, nil
		}
		res, err := scan(body)
		if err != nil {
			res, err = fullParseFallback(body)
			if err != nil {
				return nil, err
			}
		}
		res.BodyHash = sampledHash(body)
		cachePut(body, res)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	// sampledHash only windows a few bytes, so two different concurrent
	// bodies can share a singleflight key; the leader's computed result
	// may belong to a different body than this goroutine's. cacheGet
	// does an exact byte compare, so it is the authority — if this
	// body's entry isn't there (a collision with a different body hit
	// the shared key), compute it directly rather than trust the
	// leader's result.
	if cached, ok := cacheGet(body); ok {
		return cached, nil
	}
	res, err := scan(body)
	if err != nil {
		res, err = fullParseFallback(body)
		if err != nil {
			return nil, err
		}
	}
	res.BodyHash = sampledHash(body)
	cachePut(body, res)
	return res, nil
}

// fullParseFallback extracts the same fields via encoding/json when
// the linear scanner hits something it cannot handle (spec §4.1 error
// policy).
func fullParseFallback(body []byte) (*Result, error) {
	var shallow struct {
		Model      string          `json:"model"`
		Stream     *bool           `json:"stream"`
		Tools      json.RawMessage `json:"tools"`
		ToolChoice json.RawMessage `json:"tool_choice"`
		Messages   json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &shallow); err != nil {
		return nil, ErrInvalid
	}
	if shallow.Model == "" {
		return nil, ErrInvalid
	}
	res := &Result{Model: shallow.Model}
	if shallow.Stream != nil {
		res.HasStream = true
		res.Stream = *shallow.Stream
	}
	res.HasTools = hasNonEmptyArray(shallow.Tools)
	return res, nil
}

func hasNonEmptyArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '[' {
		return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
	}
	inner := bytes.TrimSpace(trimmed[1 : len(trimmed)-1])
	return len(inner) > 0
}

// ErrInvalid signals that neither the linear scan nor a full JSON
// parse could extract a model field.
var ErrInvalid = invalidErr{}

type invalidErr struct{}

func (invalidErr) Error() string { return "probe: invalid or model-less request body" }

// sampledHash reads a few 8-byte windows at head/mid/tail (spec §9
// "probe cache keying") so hashing cost stays roughly independent of
// body size. xxhash (the teacher's own indirect dependency) is used as
// the underlying hash; correctness only depends on the exact-bytes
// compare performed by the cache, not on hash choice.
func sampledHash(body []byte) uint64 {
	n := len(body)
	var sample []byte
	window := 8
	add := func(off int) {
		if off < 0 || off+window > n {
			return
		}
		sample = append(sample, body[off:off+window]...)
	}
	add(0)
	add(n/2 - window/2)
	if n > window {
		add(n - window)
	}
	if len(sample) == 0 {
		sample = body
	}
	h := xxhash.New()
	_, _ = h.Write(sample)
	var lenBuf [8]byte
	putUint64(lenBuf[:], uint64(n))
	_, _ = h.Write(lenBuf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

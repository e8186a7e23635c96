// Package reqid implements request sequence numbers and request-id
// derivation (spec.md §4.8/§9, C10): a strictly monotonic
// process-wide counter, and a 128-bit uuid derived from it by XOR with
// a random seed fixed at process start so correlations are stable
// within a process but not guessable across processes.
//
// Grounded on the teacher's own use of github.com/google/uuid for
// correlation ids (pkg/agent/toolloop.go calls uuid.New().String() per
// tool-loop invocation); this package keeps that dependency but
// replaces random generation with the seeded-XOR derivation spec.md
// requires for cross-component correlation from a single sequence
// counter.
package reqid

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator owns the process-wide sequence counter and seed. AppState
// holds exactly one for the process lifetime.
type Generator struct {
	seq  atomic.Uint64
	seed [16]byte
}

// NewGenerator creates a generator with a fresh random seed.
func NewGenerator() *Generator {
	g := &Generator{}
	if _, err := rand.Read(g.seed[:]); err != nil {
		// crypto/rand failing is unrecoverable; the teacher's own
		// codebase treats crypto/rand errors as fatal via panic in
		// comparable startup-time randomness (see providerutils).
		panic("reqid: failed to read random seed: " + err.Error())
	}
	return g
}

// Next returns the next strictly monotonic sequence number and its
// derived request id.
func (g *Generator) Next() (seq uint64, id [16]byte) {
	seq = g.seq.Add(1)
	var seqBytes [16]byte
	binary.BigEndian.PutUint64(seqBytes[8:], seq)
	for i := 0; i < 16; i++ {
		id[i] = seqBytes[i] ^ g.seed[i]
	}
	return seq, id
}

// String formats a derived id as a canonical uuid string for logs and
// response headers.
func String(id [16]byte) string {
	u, err := uuid.FromBytes(id[:])
	if err != nil {
		// FromBytes only fails on wrong slice length, which id[:]
		// (always 16 bytes) cannot produce.
		panic("reqid: unreachable uuid.FromBytes error: " + err.Error())
	}
	return u.String()
}

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowsWhenNoEntriesFastPath(t *testing.T) {
	r := New(2)
	assert.Equal(t, Allow, r.Check(0, "claude-3-opus"))
}

func TestOpensAfterFiveConsecutiveFailures(t *testing.T) {
	r := New(1)
	for i := 0; i < 4; i++ {
		r.RecordFailure(0, "m")
		require.Equal(t, Allow, r.Check(0, "m"), "should still allow before threshold, iter=%d", i)
	}
	r.RecordFailure(0, "m")
	assert.Equal(t, Deny, r.Check(0, "m"))
}

func TestSuccessClosesAndEvictsEntry(t *testing.T) {
	r := New(1)
	for i := 0; i < 5; i++ {
		r.RecordFailure(0, "m")
	}
	require.Equal(t, Deny, r.Check(0, "m"))

	r.RecordSuccess(0, "m")
	assert.Equal(t, Allow, r.Check(0, "m"))
	assert.Equal(t, int64(0), r.anyEntries.Load())
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	fixed := time.Unix(1000, 0)
	r := New(1)
	r.now = func() time.Time { return fixed }
	for i := 0; i < 5; i++ {
		r.RecordFailure(0, "m")
	}
	require.Equal(t, Deny, r.Check(0, "m"))

	r.now = func() time.Time { return fixed.Add(6 * time.Second) }
	assert.Equal(t, AllowAsProbe, r.Check(0, "m"))
	// A second caller arriving while the probe is in flight is denied.
	assert.Equal(t, Deny, r.Check(0, "m"))
}

func TestHalfOpenFailureReopensWithNextLongerWindow(t *testing.T) {
	fixed := time.Unix(2000, 0)
	r := New(1)
	r.now = func() time.Time { return fixed }
	for i := 0; i < 5; i++ {
		r.RecordFailure(0, "m")
	}

	r.now = func() time.Time { return fixed.Add(6 * time.Second) }
	require.Equal(t, AllowAsProbe, r.Check(0, "m"))
	r.RecordFailure(0, "m") // probe failed: should reopen for 15s, not 5s

	r.now = func() time.Time { return fixed.Add(6 * time.Second).Add(10 * time.Second) }
	assert.Equal(t, Deny, r.Check(0, "m"), "10s after probe failure should still be within the 15s window")

	r.now = func() time.Time { return fixed.Add(6 * time.Second).Add(16 * time.Second) }
	assert.Equal(t, AllowAsProbe, r.Check(0, "m"))
}

func TestFailureBeforeThresholdDoesNotOpen(t *testing.T) {
	r := New(1)
	r.RecordFailure(0, "m")
	r.RecordFailure(0, "m")
	assert.Equal(t, Allow, r.Check(0, "m"))
}

func TestPeekDoesNotClaimHalfOpenProbeSlot(t *testing.T) {
	fixed := time.Unix(3000, 0)
	r := New(1)
	r.now = func() time.Time { return fixed }
	for i := 0; i < 5; i++ {
		r.RecordFailure(0, "m")
	}

	r.now = func() time.Time { return fixed.Add(6 * time.Second) }
	// Repeated Peek calls must keep reporting the probe as available,
	// since Peek never sets halfOpenInFlight.
	assert.Equal(t, AllowAsProbe, r.Peek(0, "m"))
	assert.Equal(t, AllowAsProbe, r.Peek(0, "m"))
	assert.Equal(t, AllowAsProbe, r.Peek(0, "m"))

	// The real claim still works afterward, and only one Check admits.
	assert.Equal(t, AllowAsProbe, r.Check(0, "m"))
	assert.Equal(t, Deny, r.Check(0, "m"))
}

func TestIndependentModelsInSameUpstreamDoNotInterfere(t *testing.T) {
	r := New(1)
	for i := 0; i < 5; i++ {
		r.RecordFailure(0, "model-a")
	}
	assert.Equal(t, Deny, r.Check(0, "model-a"))
	assert.Equal(t, Allow, r.Check(0, "model-b"))
}

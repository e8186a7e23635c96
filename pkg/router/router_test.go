package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestRouter(t *testing.T) *Router {
	t.Helper()
	r, err := Build([]UpstreamModels{
		{UpstreamIndex: 0, Entries: []string{"gpt-4o-mini:claude-3-5-haiku-latest", "claude-3-opus"}},
		{UpstreamIndex: 1, Entries: []string{"gpt-4o-mini:claude-3-5-haiku-latest"}},
		{UpstreamIndex: 2, Entries: []string{"gemini-1.5-pro"}},
	})
	require.NoError(t, err)
	return r
}

func TestResolveIfSingleCandidate(t *testing.T) {
	r := buildTestRouter(t)

	route, ok, err := r.ResolveIfSingleCandidate("claude-3-opus")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Route{UpstreamIndex: 0, Model: "claude-3-opus"}, route)

	_, ok, err = r.ResolveIfSingleCandidate("gpt-4o-mini")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = r.ResolveIfSingleCandidate("nonexistent")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRequiresRequestHashForOrdering(t *testing.T) {
	r := buildTestRouter(t)
	assert.True(t, r.RequiresRequestHashForOrdering("gpt-4o-mini"))
	assert.False(t, r.RequiresRequestHashForOrdering("claude-3-opus"))
	assert.False(t, r.RequiresRequestHashForOrdering("nonexistent"))
}

func TestResolveOrderedIsPermutationOfUniqueUpstreams(t *testing.T) {
	r := buildTestRouter(t)
	routes, err := r.ResolveOrdered("gpt-4o-mini", 12345)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	seen := map[int]bool{}
	for _, rt := range routes {
		assert.False(t, seen[rt.UpstreamIndex], "duplicate upstream index in resolved order")
		seen[rt.UpstreamIndex] = true
	}
}

func TestResolveOrderedFirstElementDependsOnlyOnHashModGroupSize(t *testing.T) {
	r := buildTestRouter(t)
	for _, h := range []uint64{1, 2, 1 + 2} {
		routes, err := r.ResolveOrdered("gpt-4o-mini", h)
		require.NoError(t, err)
		require.NotEmpty(t, routes)
	}

	// Two hashes that land on the same bucket modulo group size must
	// produce the same starting candidate.
	n := 2
	var h1, h2 uint64 = 7, 7
	for mix64(h1)%uint64(n) != mix64(h2)%uint64(n) {
		h2++
	}
	r1, err := r.ResolveOrdered("gpt-4o-mini", h1)
	require.NoError(t, err)
	r2, err := r.ResolveOrdered("gpt-4o-mini", h2)
	require.NoError(t, err)
	assert.Equal(t, r1[0].UpstreamIndex, r2[0].UpstreamIndex)
}

func TestResolveOrderedUnknownModel(t *testing.T) {
	r := buildTestRouter(t)
	_, err := r.ResolveOrdered("nonexistent", 1)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestBuildRejectsAliasCollidingWithPlainModel(t *testing.T) {
	_, err := Build([]UpstreamModels{
		{UpstreamIndex: 0, Entries: []string{"claude-3-opus"}},
		{UpstreamIndex: 1, Entries: []string{"claude-3-opus:gpt-4o"}},
	})
	assert.Error(t, err)
}

func TestBuildRejectsEmptyEntryParts(t *testing.T) {
	_, err := Build([]UpstreamModels{
		{UpstreamIndex: 0, Entries: []string{":claude-3-opus"}},
	})
	assert.Error(t, err)

	_, err = Build([]UpstreamModels{
		{UpstreamIndex: 0, Entries: []string{"claude-3-opus:"}},
	})
	assert.Error(t, err)
}

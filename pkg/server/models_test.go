package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/llmgateway/pkg/gwconfig"
)

func TestModelsCacheDedupesAcrossServices(t *testing.T) {
	services := []gwconfig.UpstreamService{
		{Name: "primary", Models: []string{"gpt-4o", "fast:gpt-4o-mini"}},
		{Name: "secondary", Models: []string{"gpt-4o"}},
	}
	cache := newModelsCache(services, 300, nil)

	var resp modelsResponse
	require.NoError(t, json.Unmarshal(cache.render(), &resp))

	ids := map[string]bool{}
	for _, m := range resp.Data {
		ids[m.ID] = true
	}
	assert.True(t, ids["gpt-4o"])
	assert.True(t, ids["fast"])
	assert.Len(t, resp.Data, 2, "gpt-4o from both services must be deduped into one entry")
}

func TestModelsCacheReusesBodyWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newModelsCache([]gwconfig.UpstreamService{{Name: "a", Models: []string{"m1"}}}, 60, func() time.Time { return now })

	first := cache.render()
	cache.services = []gwconfig.UpstreamService{{Name: "a", Models: []string{"m1", "m2"}}}
	second := cache.render()
	assert.Equal(t, string(first), string(second), "within the TTL window the cached body must not be recomputed")
}

func TestModelsCacheRefreshesAfterTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newModelsCache([]gwconfig.UpstreamService{{Name: "a", Models: []string{"m1"}}}, 60, func() time.Time { return now })

	_ = cache.render()
	now = now.Add(61 * time.Second)
	cache.services = []gwconfig.UpstreamService{{Name: "a", Models: []string{"m1", "m2"}}}

	var resp modelsResponse
	require.NoError(t, json.Unmarshal(cache.render(), &resp))
	assert.Len(t, resp.Data, 2)
}

package server

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/relaygate/llmgateway/pkg/gwconfig"
)

// wireModel is the OpenAI-compatible `/v1/models` list entry
// (spec.md §6 "GET /v1/models | OpenAI-compatible model list").
type wireModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelsResponse struct {
	Object string      `json:"object"`
	Data   []wireModel `json:"data"`
}

// modelsCache memoizes the rendered /v1/models body for
// server.models_cache_ttl_secs, since the model list only changes at
// config reload and the gateway otherwise has no reason to re-walk
// every upstream service on every request.
type modelsCache struct {
	mu       sync.Mutex
	body     []byte
	expires  time.Time
	ttl      time.Duration
	services []gwconfig.UpstreamService
	now      func() time.Time
}

func newModelsCache(services []gwconfig.UpstreamService, ttlSecs int, now func() time.Time) *modelsCache {
	if now == nil {
		now = time.Now
	}
	return &modelsCache{services: services, ttl: time.Duration(ttlSecs) * time.Second, now: now}
}

func (c *modelsCache) render() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.body != nil && c.now().Before(c.expires) {
		return c.body
	}

	resp := modelsResponse{Object: "list"}
	seen := map[string]bool{}
	for _, svc := range c.services {
		for _, entry := range svc.Models {
			name := entry
			if idx := strings.IndexByte(entry, ':'); idx >= 0 {
				name = entry[:idx]
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			resp.Data = append(resp.Data, wireModel{
				ID:      name,
				Object:  "model",
				OwnedBy: svc.Name,
			})
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		body = []byte(`{"object":"list","data":[]}`)
	}
	c.body = body
	c.expires = c.now().Add(c.ttl)
	return body
}

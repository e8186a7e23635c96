package engine

import (
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/relaygate/llmgateway/pkg/dialect"
	"github.com/relaygate/llmgateway/pkg/fcpolicy"
	"github.com/relaygate/llmgateway/pkg/ir"
	"github.com/relaygate/llmgateway/pkg/router"
	"github.com/relaygate/llmgateway/pkg/transport"
	"github.com/relaygate/llmgateway/pkg/upstream"
)

// rawInjectApplicable implements the gate of spec.md §4.7 phase 7:
// OpenAI Chat ingress only, FC active, the retry feature off, and
// non-streaming (the raw-inject fast path short-circuits the decode
// step entirely, which only pays off for the single-shot send; a
// streaming FC-active request already needs full decode to translate
// SSE events, so it always goes through the canonical flow instead).
func (e *Engine) rawInjectApplicable(req *requestCtx, fc fcpolicy.Decision) bool {
	return req.ingress == ir.IngressOpenAIChat && fc.FcActive && !e.state.EnableFCErrorRetry && !req.stream
}

// attemptRawInject synthesizes and sends the inject body directly from
// raw bytes, skipping a full canonical decode. handled=false means the
// raw body didn't meet the structural preconditions and the caller
// should fall through to the canonical transcode flow without having
// sent anything.
func (e *Engine) attemptRawInject(req *requestCtx, route router.Route, up *upstream.Prepared) (*NonStreamResult, bool, error) {
	if !rawInjectPreconditionsMet(req.rawBody) {
		return nil, false, nil
	}

	cacheKey := sampledInjectCacheKey(req.rawBody, route.Model)
	body, ok := injectCache.get(cacheKey)
	if !ok {
		built, err := buildInjectBody(req.rawBody, route.Model)
		if err != nil {
			return nil, false, nil // malformed in a way raw-inject can't handle; fall through to canonical decode
		}
		body = built
		injectCache.put(cacheKey, body)
	}

	httpReq := transport.Request{
		Method:  "POST",
		URL:     up.RequestURL(route.Model, false),
		Headers: up.Headers,
		Proxy:   up.ProxyFor(false),
		Body:    body,
	}
	resp, err := e.state.Transport.SendNonStream(req.ctx, httpReq)
	if err != nil {
		return nil, true, err
	}
	if resp.Status >= 200 && resp.Status < 300 {
		return &NonStreamResult{Status: resp.Status, Headers: resp.Headers.Clone(), Body: resp.Body}, true, nil
	}
	return nil, true, classifyUpstreamResponse(resp.Status, resp.Body)
}

type shallowMessage struct {
	Role      string            `json:"role"`
	ToolCalls []json.RawMessage `json:"tool_calls"`
}

type shallowFunctionTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"function"`
}

func rawInjectPreconditionsMet(body []byte) bool {
	var shallow struct {
		Messages       []shallowMessage `json:"messages"`
		ResponseFormat json.RawMessage  `json:"response_format"`
		ToolChoice     json.RawMessage  `json:"tool_choice"`
	}
	if err := json.Unmarshal(body, &shallow); err != nil {
		return false
	}
	for _, m := range shallow.Messages {
		if m.Role == "system" || m.Role == "tool" {
			return false
		}
		if len(m.ToolCalls) > 0 {
			return false
		}
	}
	if len(shallow.ResponseFormat) > 0 {
		var rf struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(shallow.ResponseFormat, &rf) == nil {
			if rf.Type == "json_schema" || rf.Type == "json_object" {
				return false
			}
		}
	}
	if string(shallow.ToolChoice) == `"none"` {
		return false
	}
	return true
}

func buildInjectBody(body []byte, targetModel string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}

	var tools []shallowFunctionTool
	if raw, ok := obj["tools"]; ok {
		_ = json.Unmarshal(raw, &tools)
	}
	specs := make([]ir.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, ir.ToolSpec{Name: t.Function.Name, Description: t.Function.Description})
	}

	var messages []json.RawMessage
	if raw, ok := obj["messages"]; ok {
		_ = json.Unmarshal(raw, &messages)
	}

	systemMsg, _ := json.Marshal(map[string]string{
		"role":    "system",
		"content": dialect.SynthesizedSystemPrompt(specs),
	})
	messages = append([]json.RawMessage{systemMsg}, messages...)

	newMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	obj["messages"] = newMessages
	delete(obj, "tools")
	delete(obj, "tool_choice")

	modelJSON, err := json.Marshal(targetModel)
	if err != nil {
		return nil, err
	}
	obj["model"] = modelJSON

	return json.Marshal(obj)
}

// sampledInjectCacheKey hashes body||0||targetModel with xxhash, per
// spec.md §4.7 phase 7's "sampled hash of (body, target_model)" — the
// same hashing family pkg/probe uses for its own body cache.
func sampledInjectCacheKey(body []byte, targetModel string) uint64 {
	h := xxhash.New()
	h.Write(body)
	h.Write([]byte{0})
	h.Write([]byte(targetModel))
	return h.Sum64()
}

// injectBodyCache is the 8-set × 4-way process-wide cache of
// spec.md §4.7 phase 7, deduplicating repeated synthesis work across
// retries of the same (body, target_model) pair.
type injectBodyCache struct {
	mu     sync.Mutex
	shards [8][4]injectCacheEntry
	next   [8]int
}

type injectCacheEntry struct {
	key   uint64
	valid bool
	body  []byte
}

var injectCache = &injectBodyCache{}

func (c *injectBodyCache) get(key uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	shard := &c.shards[key%8]
	for _, e := range shard {
		if e.valid && e.key == key {
			return e.body, true
		}
	}
	return nil, false
}

func (c *injectBodyCache) put(key uint64, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := key % 8
	way := c.next[idx]
	c.shards[idx][way] = injectCacheEntry{key: key, valid: true, body: body}
	c.next[idx] = (way + 1) % 4
}

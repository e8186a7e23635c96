package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaygate/llmgateway/pkg/fcpolicy"
	"github.com/relaygate/llmgateway/pkg/ir"
)

func TestRawInjectApplicableRequiresOpenAIChatIngress(t *testing.T) {
	e := &Engine{state: &AppState{}}
	req := &requestCtx{ingress: ir.IngressAnthropic, stream: false}
	fc := fcpolicy.Decision{FcActive: true}
	assert.False(t, e.rawInjectApplicable(req, fc))
}

func TestRawInjectApplicableRequiresFcActive(t *testing.T) {
	e := &Engine{state: &AppState{}}
	req := &requestCtx{ingress: ir.IngressOpenAIChat, stream: false}
	fc := fcpolicy.Decision{FcActive: false}
	assert.False(t, e.rawInjectApplicable(req, fc))
}

func TestRawInjectApplicableRejectsStreaming(t *testing.T) {
	e := &Engine{state: &AppState{}}
	req := &requestCtx{ingress: ir.IngressOpenAIChat, stream: true}
	fc := fcpolicy.Decision{FcActive: true}
	assert.False(t, e.rawInjectApplicable(req, fc))
}

func TestRawInjectApplicableRejectsWhenFCErrorRetryEnabled(t *testing.T) {
	e := &Engine{state: &AppState{EnableFCErrorRetry: true}}
	req := &requestCtx{ingress: ir.IngressOpenAIChat, stream: false}
	fc := fcpolicy.Decision{FcActive: true}
	assert.False(t, e.rawInjectApplicable(req, fc))
}

func TestRawInjectApplicableAllTrue(t *testing.T) {
	e := &Engine{state: &AppState{}}
	req := &requestCtx{ingress: ir.IngressOpenAIChat, stream: false}
	fc := fcpolicy.Decision{FcActive: true}
	assert.True(t, e.rawInjectApplicable(req, fc))
}

func TestRawInjectPreconditionsMetSimpleConversation(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	assert.True(t, rawInjectPreconditionsMet(body))
}

func TestRawInjectPreconditionsRejectsExistingSystemMessage(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"system","content":"x"},{"role":"user","content":"hi"}]}`)
	assert.False(t, rawInjectPreconditionsMet(body))
}

func TestRawInjectPreconditionsRejectsPriorToolCalls(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"assistant","tool_calls":[{"id":"1"}]}]}`)
	assert.False(t, rawInjectPreconditionsMet(body))
}

func TestRawInjectPreconditionsRejectsJSONSchemaResponseFormat(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"response_format":{"type":"json_schema"}}`)
	assert.False(t, rawInjectPreconditionsMet(body))
}

func TestRawInjectPreconditionsRejectsToolChoiceNone(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"tool_choice":"none"}`)
	assert.False(t, rawInjectPreconditionsMet(body))
}

func TestBuildInjectBodyPrependsSystemMessageAndStripsTools(t *testing.T) {
	body := []byte(`{"model":"my-alias","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function","function":{"name":"get_weather","description":"gets weather"}}]}`)
	out, err := buildInjectBody(body, "gpt-4-turbo")
	assert.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, `"gpt-4-turbo"`)
	assert.Contains(t, s, "get_weather")
	assert.Contains(t, s, `"role":"system"`)
	assert.NotContains(t, s, `"tools"`)
}

func TestInjectBodyCacheRoundTrip(t *testing.T) {
	c := &injectBodyCache{}
	c.put(42, []byte("body-a"))
	got, ok := c.get(42)
	assert.True(t, ok)
	assert.Equal(t, []byte("body-a"), got)

	_, ok = c.get(99)
	assert.False(t, ok)
}

func TestInjectBodyCacheEvictsOldestWithinShard(t *testing.T) {
	c := &injectBodyCache{}
	// All these keys land in shard 0 (key % 8 == 0) and the shard only
	// holds 4 ways, so the 5th put evicts the entry for key 0.
	keys := []uint64{0, 8, 16, 24, 32}
	for _, k := range keys {
		c.put(k, []byte{byte(k)})
	}
	_, ok := c.get(0)
	assert.False(t, ok, "oldest entry in the 4-way shard should have been evicted")
	_, ok = c.get(32)
	assert.True(t, ok)
}

package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/llmgateway/pkg/ir"
)

func TestDecodeRequestBasicTextMessage(t *testing.T) {
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"systemInstruction":{"parts":[{"text":"be terse"}]},"generationConfig":{"temperature":0.5}}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ir.RoleUser, req.Messages[0].Role)
	assert.Equal(t, ir.TextPart{Text: "hi"}, req.Messages[0].Parts[0])
	require.NotNil(t, req.Params.Temperature)
	assert.Equal(t, 0.5, *req.Params.Temperature)
}

func TestDecodeRequestFunctionCallAndResponse(t *testing.T) {
	body := []byte(`{"contents":[
		{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"NYC"}}}]},
		{"role":"user","parts":[{"functionResponse":{"name":"get_weather","response":{"content":"sunny"}}}]}
	]}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ir.RoleAssistant, req.Messages[0].Role)
	tc, ok := req.Messages[0].Parts[0].(ir.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "get_weather", tc.Name)
	assert.True(t, req.Messages[1].HasToolResult())
}

func TestDecodeRequestToolConfigNamedSingleAllowedFunction(t *testing.T) {
	body := []byte(`{"contents":[],"toolConfig":{"functionCallingConfig":{"mode":"ANY","allowedFunctionNames":["get_weather"]}}}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, ir.ToolChoiceNamed, req.ToolChoice.Kind)
	assert.Equal(t, "get_weather", req.ToolChoice.Name)
}

func TestEncodeRequestOmitsGenerationConfigWhenEmpty(t *testing.T) {
	req := &ir.Request{Messages: []ir.Message{{Role: ir.RoleUser, Parts: []ir.Part{ir.TextPart{Text: "hi"}}}}}
	body, err := New().EncodeRequest(req)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "generationConfig")
}

func TestEncodeRequestRoundTripPreservesMessages(t *testing.T) {
	req := &ir.Request{
		SystemPrompt: "be terse",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Parts: []ir.Part{ir.TextPart{Text: "hi"}}},
		},
		ToolChoice: ir.ToolChoice{Kind: ir.ToolChoiceAuto},
	}
	body, err := New().EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := New().DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, req.SystemPrompt, decoded.SystemPrompt)
	require.Len(t, decoded.Messages, 1)
	assert.Equal(t, ir.TextPart{Text: "hi"}, decoded.Messages[0].Parts[0])
}

func TestDecodeResponseBasic(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"totalTokenCount":15}}`)
	resp, err := New().DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, ir.FinishStop, resp.StopReason)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
	require.Len(t, resp.Parts, 1)
	assert.Equal(t, ir.TextPart{Text: "hello"}, resp.Parts[0])
}

func TestEncodeResponseSetsStopOnToolCall(t *testing.T) {
	resp := &ir.Response{
		Parts:      []ir.Part{ir.ToolCallPart{Name: "get_weather", ID: "get_weather"}},
		StopReason: ir.FinishToolCalls,
	}
	body, err := New().EncodeResponse(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"finishReason":"STOP"`)
	assert.Contains(t, string(body), `"functionCall"`)
}

func TestDecodeStreamChunkTextDelta(t *testing.T) {
	raw := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]},"index":0}]}`)
	events, err := New().DecodeStreamChunk(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventTextDelta, events[0].Kind)
	assert.Equal(t, "hel", events[0].Delta)
}

func TestDecodeStreamChunkWithFinishReasonAndUsage(t *testing.T) {
	raw := []byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}`)
	events, err := New().DecodeStreamChunk(raw)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ir.EventTextDelta, events[0].Kind)
	assert.Equal(t, ir.EventMessageEnd, events[1].Kind)
	assert.Equal(t, ir.EventUsage, events[2].Kind)
}

func TestEncodeStreamEventDoneUsesOpenAIStyleSentinel(t *testing.T) {
	frames, err := New().EncodeStreamEvent(ir.StreamEvent{Kind: ir.EventDone})
	require.NoError(t, err)
	assert.Equal(t, []string{"data: [DONE]\n\n"}, frames)
}

func TestEncodeStreamEventTextDelta(t *testing.T) {
	frames, err := New().EncodeStreamEvent(ir.StreamEvent{Kind: ir.EventTextDelta, Delta: "hi"})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0], `"text":"hi"`)
}

func TestEncodeErrorShape(t *testing.T) {
	b := New().EncodeError(429, "RESOURCE_EXHAUSTED", "too many requests")
	assert.Contains(t, string(b), `"code":429`)
	assert.Contains(t, string(b), `"status":"RESOURCE_EXHAUSTED"`)
}

package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/llmgateway/pkg/ir"
)

func TestDecodeRequestBasicTextMessage(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-haiku-latest","system":"be terse","messages":[{"role":"user","content":"hi"}],"max_tokens":256}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-latest", req.Model)
	assert.Equal(t, "be terse", req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Parts, 1)
	assert.Equal(t, ir.TextPart{Text: "hi"}, req.Messages[0].Parts[0])
	require.NotNil(t, req.Params.MaxTokens)
	assert.Equal(t, 256, *req.Params.MaxTokens)
}

func TestEncodeRequestDefaultsMaxTokensWhenAbsent(t *testing.T) {
	req := &ir.Request{Model: "claude-3-5-haiku-latest"}
	body, err := New().EncodeRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"max_tokens":4096`)
}

func TestDecodeRequestToolUseAndToolResultBlocks(t *testing.T) {
	body := []byte(`{"model":"m","messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"NYC"}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"sunny"}]}
	],"max_tokens":100}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	tc, ok := req.Messages[0].Parts[0].(ir.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "get_weather", tc.Name)
	assert.True(t, req.Messages[1].HasToolResult())
}

func TestDecodeRequestNamedToolChoice(t *testing.T) {
	body := []byte(`{"model":"m","messages":[],"max_tokens":10,"tool_choice":{"type":"tool","name":"get_weather"}}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, ir.ToolChoiceNamed, req.ToolChoice.Kind)
	assert.Equal(t, "get_weather", req.ToolChoice.Name)
}

func TestEncodeRequestRoundTripPreservesModelAndMessages(t *testing.T) {
	req := &ir.Request{
		Model:        "claude-3-5-haiku-latest",
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
	assert.Equal(t, req.Model, decoded.Model)
	assert.Equal(t, req.SystemPrompt, decoded.SystemPrompt)
	require.Len(t, decoded.Messages, 1)
	assert.Equal(t, ir.TextPart{Text: "hi"}, decoded.Messages[0].Parts[0])
}

func TestDecodeResponseBasic(t *testing.T) {
	body := []byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)
	resp, err := New().DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, ir.FinishStop, resp.StopReason)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
	require.Len(t, resp.Parts, 1)
	assert.Equal(t, ir.TextPart{Text: "hello"}, resp.Parts[0])
}

func TestEncodeResponseBasic(t *testing.T) {
	resp := &ir.Response{
		ID: "msg_1", Model: "claude-3-5-haiku-latest",
		Parts:      []ir.Part{ir.TextPart{Text: "hi there"}},
		StopReason: ir.FinishToolCalls,
		Usage:      ir.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3},
	}
	body, err := New().EncodeResponse(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"hi there"`)
	assert.Contains(t, string(body), `"stop_reason":"tool_use"`)
}

func TestDecodeStreamChunkMessageStartCarriesUsage(t *testing.T) {
	raw := []byte(`{"type":"message_start","message":{"id":"msg_1","model":"m","usage":{"input_tokens":42,"output_tokens":0}}}`)
	events, err := New().DecodeStreamChunk(raw)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ir.EventMessageStart, events[0].Kind)
	assert.Equal(t, ir.EventUsage, events[1].Kind)
	assert.Equal(t, int64(42), events[1].Usage.InputTokens)
}

func TestDecodeStreamChunkTextDelta(t *testing.T) {
	raw := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hel"}}`)
	events, err := New().DecodeStreamChunk(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventTextDelta, events[0].Kind)
	assert.Equal(t, "hel", events[0].Delta)
}

func TestDecodeStreamChunkToolCallStartAndArgsDelta(t *testing.T) {
	start := []byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`)
	events, err := New().DecodeStreamChunk(start)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventToolCallStart, events[0].Kind)
	assert.Equal(t, "toolu_1", events[0].ToolCallID)

	delta := []byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\""}}`)
	events, err = New().DecodeStreamChunk(delta)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventToolCallArgs, events[0].Kind)
}

func TestDecodeStreamChunkMessageStop(t *testing.T) {
	events, err := New().DecodeStreamChunk([]byte(`{"type":"message_stop"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventDone, events[0].Kind)
}

func TestDecodeStreamChunkPingYieldsNoEvents(t *testing.T) {
	events, err := New().DecodeStreamChunk([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEncodeStreamEventTextDeltaUsesNamedFrame(t *testing.T) {
	frames, err := New().EncodeStreamEvent(ir.StreamEvent{Kind: ir.EventTextDelta, Delta: "hi"})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0], "event: content_block_delta")
	assert.Contains(t, frames[0], `"text":"hi"`)
}

func TestEncodeStreamEventDoneIsMessageStop(t *testing.T) {
	frames, err := New().EncodeStreamEvent(ir.StreamEvent{Kind: ir.EventDone})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0], "event: message_stop")
}

func TestEncodeErrorShape(t *testing.T) {
	b := New().EncodeError(429, "rate_limit_error", "too many requests")
	assert.Contains(t, string(b), `"type":"error"`)
	assert.Contains(t, string(b), `"message":"too many requests"`)
}

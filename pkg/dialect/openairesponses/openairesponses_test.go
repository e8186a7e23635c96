package openairesponses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/llmgateway/pkg/ir"
)

func TestDecodeRequestStringInputShorthand(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","input":"hi","instructions":"be terse"}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ir.TextPart{Text: "hi"}, req.Messages[0].Parts[0])
}

func TestDecodeRequestItemListWithFunctionCallAndOutput(t *testing.T) {
	body := []byte(`{"model":"m","input":[
		{"type":"message","role":"user","content":[{"type":"input_text","text":"weather?"}]},
		{"type":"function_call","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"NYC\"}"},
		{"type":"function_call_output","call_id":"call_1","output":"sunny"}
	]}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	tc, ok := req.Messages[1].Parts[0].(ir.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "get_weather", tc.Name)
	assert.True(t, req.Messages[2].HasToolResult())
}

func TestDecodeRequestNamedToolChoice(t *testing.T) {
	body := []byte(`{"model":"m","input":"hi","tool_choice":{"type":"function","name":"get_weather"}}`)
	req, err := New().DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, ir.ToolChoiceNamed, req.ToolChoice.Kind)
	assert.Equal(t, "get_weather", req.ToolChoice.Name)
}

func TestEncodeRequestRoundTripPreservesMessages(t *testing.T) {
	req := &ir.Request{
		Model:        "gpt-4o",
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

func TestDecodeResponseBasicMessageOutput(t *testing.T) {
	body := []byte(`{"id":"resp_1","object":"response","status":"completed","model":"gpt-4o","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hello"}],"status":"completed"}],"usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}`)
	resp, err := New().DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, ir.FinishStop, resp.StopReason)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
	require.Len(t, resp.Parts, 1)
	assert.Equal(t, ir.TextPart{Text: "hello"}, resp.Parts[0])
}

func TestDecodeResponseFunctionCallSetsToolCallsFinish(t *testing.T) {
	body := []byte(`{"id":"resp_1","status":"completed","output":[{"type":"function_call","call_id":"call_1","name":"get_weather","arguments":"{}"}]}`)
	resp, err := New().DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, ir.FinishToolCalls, resp.StopReason)
	require.Len(t, resp.Parts, 1)
	tc, ok := resp.Parts[0].(ir.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "get_weather", tc.Name)
}

func TestEncodeResponseBasic(t *testing.T) {
	resp := &ir.Response{
		ID: "resp_1", Model: "gpt-4o",
		Parts:      []ir.Part{ir.TextPart{Text: "hi there"}},
		StopReason: ir.FinishStop,
	}
	body, err := New().EncodeResponse(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"hi there"`)
	assert.Contains(t, string(body), `"status":"completed"`)
}

func TestDecodeStreamChunkTextDelta(t *testing.T) {
	raw := []byte(`{"type":"response.output_text.delta","delta":"hel"}`)
	events, err := New().DecodeStreamChunk(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.EventTextDelta, events[0].Kind)
	assert.Equal(t, "hel", events[0].Delta)
}

func TestDecodeStreamChunkCompletedYieldsEndUsageAndDone(t *testing.T) {
	raw := []byte(`{"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":1,"output_tokens":2,"total_tokens":3}}}`)
	events, err := New().DecodeStreamChunk(raw)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ir.EventMessageEnd, events[0].Kind)
	assert.Equal(t, ir.EventUsage, events[1].Kind)
	assert.Equal(t, ir.EventDone, events[2].Kind)
}

func TestEncodeStreamEventTextDelta(t *testing.T) {
	frames, err := New().EncodeStreamEvent(ir.StreamEvent{Kind: ir.EventTextDelta, Delta: "hi"})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0], `"delta":"hi"`)
	assert.Contains(t, frames[0], "response.output_text.delta")
}

func TestEncodeStreamEventDone(t *testing.T) {
	frames, err := New().EncodeStreamEvent(ir.StreamEvent{Kind: ir.EventDone})
	require.NoError(t, err)
	assert.Equal(t, []string{"data: [DONE]\n\n"}, frames)
}

func TestEncodeErrorShape(t *testing.T) {
	b := New().EncodeError(429, "rate_limit_error", "too many requests")
	assert.Contains(t, string(b), `"message":"too many requests"`)
}

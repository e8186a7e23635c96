// Package anthropic implements the Anthropic Messages wire dialect
// codec (spec.md §6, C1): request/response/stream translation between
// the `/v1/messages` wire format and the canonical IR, including the
// named-SSE-event convention (`event: message_start` etc.) that
// distinguishes this dialect from OpenAI/Gemini's unnamed `data: …`
// frames.
//
// Grounded on digitallysavvy-go-ai/pkg/providers/anthropic/
// language_model.go (buildRequestBody, convertResponse,
// anthropicContent's tagged-union shape, anthropicStream's
// content-block accumulation by index) for the JSON shapes and
// streaming pattern; SSE frame text is built in this package
// (namedFrame).
package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/relaygate/llmgateway/pkg/ir"
)

// Codec implements dialect.Codec for Anthropic Messages.
type Codec struct{}

func New() *Codec { return &Codec{} }

const defaultMaxTokens = 4096

type wireContentBlock struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Source     *wireImageSource `json:"source,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type wireRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []wireMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	StopSeqs    []string        `json:"stop_sequences,omitempty"`
	Tools       []wireToolSpec  `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

// DecodeRequest parses an Anthropic Messages wire request into
// canonical form.
func (Codec) DecodeRequest(body []byte) (*ir.Request, error) {
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("anthropic: decode request: %w", err)
	}

	req := &ir.Request{
		IngressAPI:   ir.IngressAnthropic,
		Model:        w.Model,
		Stream:       w.Stream,
		SystemPrompt: w.System,
		Params: ir.GenerationParams{
			Temperature:   w.Temperature,
			TopP:          w.TopP,
			TopK:          w.TopK,
			StopSequences: w.StopSeqs,
		},
	}
	if w.MaxTokens > 0 {
		mt := w.MaxTokens
		req.Params.MaxTokens = &mt
	}

	for _, m := range w.Messages {
		req.Messages = append(req.Messages, decodeMessage(m))
	}

	for _, t := range w.Tools {
		req.Tools = append(req.Tools, ir.ToolSpec{
			Name:                    t.Name,
			Description:             t.Description,
			ParametersSchemaRawJSON: t.InputSchema,
		})
	}
	req.ToolChoice = decodeToolChoice(w.ToolChoice)

	return req, nil
}

func decodeMessage(m wireMessage) ir.Message {
	msg := ir.Message{Role: roleFromWire(m.Role)}

	var asText string
	if err := json.Unmarshal(m.Content, &asText); err == nil {
		if asText != "" {
			msg.Parts = append(msg.Parts, ir.TextPart{Text: asText})
		}
		return msg
	}

	var blocks []wireContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return msg
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			msg.Parts = append(msg.Parts, ir.TextPart{Text: b.Text})
		case "tool_use":
			msg.Parts = append(msg.Parts, ir.ToolCallPart{ID: b.ID, Name: b.Name, ArgumentsRawJSON: b.Input})
		case "tool_result":
			msg.ToolCallID = b.ToolUseID
			msg.Parts = append(msg.Parts, ir.ToolResultPart{
				ToolCallID: b.ToolUseID,
				Content:    toolResultText(b.Content),
				IsError:    b.IsError,
			})
		case "image":
			if b.Source != nil {
				url := b.Source.URL
				if url == "" && b.Source.Data != "" {
					url = "data:" + b.Source.MediaType + ";base64," + b.Source.Data
				}
				msg.Parts = append(msg.Parts, ir.ImageURLPart{URL: url})
			}
		}
	}
	return msg
}

func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" {
				return b.Text
			}
		}
	}
	return ""
}

func roleFromWire(r string) ir.Role {
	if r == "assistant" {
		return ir.RoleAssistant
	}
	return ir.RoleUser
}

func decodeToolChoice(raw json.RawMessage) ir.ToolChoice {
	if len(raw) == 0 {
		return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
	}
	var tc struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &tc); err != nil {
		return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
	}
	switch tc.Type {
	case "none":
		return ir.ToolChoice{Kind: ir.ToolChoiceNone}
	case "any":
		return ir.ToolChoice{Kind: ir.ToolChoiceRequired}
	case "tool":
		return ir.ToolChoice{Kind: ir.ToolChoiceNamed, Name: tc.Name}
	default:
		return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
	}
}

// EncodeRequest serializes a canonical request into Anthropic Messages
// wire form.
func (Codec) EncodeRequest(req *ir.Request) ([]byte, error) {
	maxTokens := defaultMaxTokens
	if req.Params.MaxTokens != nil {
		maxTokens = *req.Params.MaxTokens
	}
	w := wireRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Stream:      req.Stream,
		MaxTokens:   maxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		TopK:        req.Params.TopK,
		StopSeqs:    req.Params.StopSequences,
	}

	for _, m := range req.Messages {
		w.Messages = append(w.Messages, encodeMessage(m))
	}
	for _, t := range req.Tools {
		w.Tools = append(w.Tools, wireToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.ParametersSchemaRawJSON,
		})
	}
	if raw := encodeToolChoice(req.ToolChoice); raw != nil {
		w.ToolChoice = raw
	}

	return json.Marshal(w)
}

func encodeMessage(m ir.Message) wireMessage {
	var blocks []wireContentBlock
	for _, p := range m.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			blocks = append(blocks, wireContentBlock{Type: "text", Text: v.Text})
		case ir.ToolCallPart:
			input := v.ArgumentsRawJSON
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, wireContentBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input})
		case ir.ToolResultPart:
			content, _ := json.Marshal(v.Content)
			blocks = append(blocks, wireContentBlock{Type: "tool_result", ToolUseID: v.ToolCallID, Content: content, IsError: v.IsError})
		case ir.ImageURLPart:
			blocks = append(blocks, wireContentBlock{Type: "image", Source: &wireImageSource{Type: "url", URL: v.URL}})
		}
	}
	content, _ := json.Marshal(blocks)
	return wireMessage{Role: wireRole(m.Role), Content: content}
}

func wireRole(r ir.Role) string {
	if r == ir.RoleAssistant {
		return "assistant"
	}
	return "user"
}

func encodeToolChoice(tc ir.ToolChoice) json.RawMessage {
	switch tc.Kind {
	case ir.ToolChoiceNone:
		b, _ := json.Marshal(map[string]string{"type": "none"})
		return b
	case ir.ToolChoiceRequired:
		b, _ := json.Marshal(map[string]string{"type": "any"})
		return b
	case ir.ToolChoiceNamed:
		b, _ := json.Marshal(map[string]string{"type": "tool", "name": tc.Name})
		return b
	default:
		return nil
	}
}

type wireUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type wireResponse struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Role       string              `json:"role"`
	Content    []wireContentBlock  `json:"content"`
	Model      string              `json:"model"`
	StopReason string              `json:"stop_reason"`
	Usage      wireUsage           `json:"usage"`
}

// DecodeResponse parses a non-streaming Anthropic response into
// canonical form.
func (Codec) DecodeResponse(body []byte) (*ir.Response, error) {
	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	resp := &ir.Response{
		ID:         w.ID,
		Model:      w.Model,
		StopReason: finishReasonFromWire(w.StopReason),
		Usage:      ir.Usage{InputTokens: w.Usage.InputTokens, OutputTokens: w.Usage.OutputTokens, TotalTokens: w.Usage.InputTokens + w.Usage.OutputTokens},
	}
	for _, b := range w.Content {
		switch b.Type {
		case "text":
			resp.Parts = append(resp.Parts, ir.TextPart{Text: b.Text})
		case "tool_use":
			resp.Parts = append(resp.Parts, ir.ToolCallPart{ID: b.ID, Name: b.Name, ArgumentsRawJSON: b.Input})
		case "thinking":
			// Not carried into the canonical response: wireContentBlock
			// has no field for thinking text, so the block is dropped.
		}
	}
	return resp, nil
}

func finishReasonFromWire(s string) ir.FinishReason {
	switch s {
	case "end_turn", "stop_sequence":
		return ir.FinishStop
	case "max_tokens":
		return ir.FinishLength
	case "tool_use":
		return ir.FinishToolCalls
	default:
		return ir.FinishUnknown
	}
}

func wireStopReason(fr ir.FinishReason) string {
	switch fr {
	case ir.FinishStop:
		return "end_turn"
	case ir.FinishLength:
		return "max_tokens"
	case ir.FinishToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// EncodeResponse serializes a canonical response into Anthropic
// Messages wire form.
func (Codec) EncodeResponse(resp *ir.Response) ([]byte, error) {
	w := wireResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		StopReason: wireStopReason(resp.StopReason),
		Usage:      wireUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	for _, p := range resp.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			w.Content = append(w.Content, wireContentBlock{Type: "text", Text: v.Text})
		case ir.ToolCallPart:
			input := v.ArgumentsRawJSON
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			w.Content = append(w.Content, wireContentBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input})
		}
	}
	return json.Marshal(w)
}

// streamEventEnvelope mirrors the Anthropic SSE `data:` payload shape
// across all named event types; unused fields are simply absent in a
// given event and left zero-valued.
type streamEventEnvelope struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	Message      struct {
		ID    string    `json:"id"`
		Model string    `json:"model"`
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type  string          `json:"type"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
		Text  string          `json:"text"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage wireUsage `json:"usage"`
}

// DecodeStreamChunk parses one Anthropic named-event `data:` payload.
// Only the data payload is passed in, not the SSE event name; the
// event is identified by the envelope's own "type" field, which
// Anthropic duplicates into the JSON body.
func (Codec) DecodeStreamChunk(raw []byte) ([]ir.StreamEvent, error) {
	var w streamEventEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("anthropic: decode stream event: %w", err)
	}

	switch w.Type {
	case "message_start":
		return []ir.StreamEvent{
			{Kind: ir.EventMessageStart, Role: ir.RoleAssistant},
			{Kind: ir.EventUsage, Usage: &ir.Usage{InputTokens: w.Message.Usage.InputTokens}},
		}, nil
	case "content_block_start":
		if w.ContentBlock.Type == "tool_use" {
			return []ir.StreamEvent{{Kind: ir.EventToolCallStart, ToolCallIndex: w.Index, ToolCallID: w.ContentBlock.ID, ToolCallName: w.ContentBlock.Name}}, nil
		}
		return nil, nil
	case "content_block_delta":
		switch w.Delta.Type {
		case "text_delta":
			return []ir.StreamEvent{{Kind: ir.EventTextDelta, Delta: w.Delta.Text}}, nil
		case "input_json_delta":
			return []ir.StreamEvent{{Kind: ir.EventToolCallArgs, ToolCallIndex: w.Index, Delta: w.Delta.PartialJSON}}, nil
		}
		return nil, nil
	case "content_block_stop":
		return []ir.StreamEvent{{Kind: ir.EventToolCallEnd, ToolCallIndex: w.Index}}, nil
	case "message_delta":
		events := []ir.StreamEvent{{Kind: ir.EventMessageEnd, StopReason: finishReasonFromWire(w.Delta.StopReason)}}
		if w.Usage.OutputTokens > 0 {
			events = append(events, ir.StreamEvent{Kind: ir.EventUsage, Usage: &ir.Usage{OutputTokens: w.Usage.OutputTokens}})
		}
		return events, nil
	case "message_stop":
		return []ir.StreamEvent{{Kind: ir.EventDone}}, nil
	case "ping":
		return nil, nil
	default:
		return nil, nil
	}
}

// EncodeStreamEvent serializes one canonical event into Anthropic's
// named-SSE-event wire frame(s): `event: <name>\ndata: <json>\n\n`.
// Unlike OpenAI/Gemini, the returned strings here are full frames
// already carrying their event name, built by the namedFrame helper
// below; the codec still returns plain strings so the Codec interface stays uniform
// across dialects.
func (Codec) EncodeStreamEvent(ev ir.StreamEvent) ([]string, error) {
	switch ev.Kind {
	case ir.EventMessageStart:
		return namedFrame("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": "", "type": "message", "role": "assistant", "content": []any{},
				"model": "", "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})
	case ir.EventTextDelta:
		return namedFrame("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "text_delta", "text": ev.Delta},
		})
	case ir.EventToolCallStart:
		return namedFrame("content_block_start", map[string]any{
			"type": "content_block_start", "index": ev.ToolCallIndex,
			"content_block": map[string]any{"type": "tool_use", "id": ev.ToolCallID, "name": ev.ToolCallName, "input": map[string]any{}},
		})
	case ir.EventToolCallArgs:
		return namedFrame("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": ev.ToolCallIndex,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.Delta},
		})
	case ir.EventToolCallEnd:
		return namedFrame("content_block_stop", map[string]any{"type": "content_block_stop", "index": ev.ToolCallIndex})
	case ir.EventMessageEnd:
		return namedFrame("message_delta", map[string]any{
			"type": "message_delta",
			"delta": map[string]any{"stop_reason": wireStopReason(ev.StopReason)},
		})
	case ir.EventUsage:
		return namedFrame("message_delta", map[string]any{
			"type": "message_delta",
			"usage": map[string]any{"output_tokens": ev.Usage.OutputTokens},
		})
	case ir.EventDone:
		return namedFrame("message_stop", map[string]any{"type": "message_stop"})
	default:
		return nil, nil
	}
}

func namedFrame(event string, payload map[string]any) ([]string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("event: %s\ndata: %s\n\n", event, string(b))}, nil
}

// EncodeError serializes a gateway error into the Anthropic error
// shape (spec.md §6: `{type:"error", error:{type, message}}`).
func (Codec) EncodeError(status int, errType, message string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
	return b
}

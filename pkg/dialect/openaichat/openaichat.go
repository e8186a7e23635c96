// Package openaichat implements the OpenAI Chat Completions wire
// dialect codec (spec.md §6, C1): request/response/stream translation
// between the `/v1/chat/completions` wire format and the canonical IR.
//
// Grounded on digitallysavvy-go-ai/pkg/providers/openai/language_model.go
// (buildRequestBody, convertResponse, convertOpenAIUsage, openAIStream)
// for the JSON shapes and streaming-delta accumulation pattern, and on
// pkg/providerutils/streaming for the SSE frame shape, whose text this
// package builds itself.
package openaichat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaygate/llmgateway/pkg/ir"
)

// Codec implements dialect.Codec for OpenAI Chat Completions.
type Codec struct{}

func New() *Codec { return &Codec{} }

type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
		Strict      bool            `json:"strict,omitempty"`
	} `json:"function"`
}

type wireRequest struct {
	Model               string          `json:"model"`
	Messages            []wireMessage   `json:"messages"`
	Stream              bool            `json:"stream,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	Seed                *int            `json:"seed,omitempty"`
	Tools               []wireTool      `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
}

// DecodeRequest parses an OpenAI Chat wire request into canonical form.
func (Codec) DecodeRequest(body []byte) (*ir.Request, error) {
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("openaichat: decode request: %w", err)
	}

	req := &ir.Request{
		IngressAPI: ir.IngressOpenAIChat,
		Model:      w.Model,
		Stream:     w.Stream,
		Params: ir.GenerationParams{
			Temperature:      w.Temperature,
			TopP:             w.TopP,
			FrequencyPenalty: w.FrequencyPenalty,
			PresencePenalty:  w.PresencePenalty,
			Seed:             w.Seed,
			StopSequences:    w.Stop,
		},
	}
	// Newer max_completion_tokens wins over the deprecated max_tokens
	// when both are present (DESIGN.md Open Question decision).
	if w.MaxCompletionTokens != nil {
		req.Params.MaxTokens = w.MaxCompletionTokens
	} else if w.MaxTokens != nil {
		req.Params.MaxTokens = w.MaxTokens
	}

	for _, m := range w.Messages {
		msg, isSystem, sysText := decodeMessage(m)
		if isSystem {
			if req.SystemPrompt != "" {
				req.SystemPrompt += "\n" + sysText
			} else {
				req.SystemPrompt = sysText
			}
			continue
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range w.Tools {
		req.Tools = append(req.Tools, ir.ToolSpec{
			Name:                    t.Function.Name,
			Description:             t.Function.Description,
			ParametersSchemaRawJSON: t.Function.Parameters,
			Strict:                  t.Function.Strict,
		})
	}
	req.ToolChoice = decodeToolChoice(w.ToolChoice)

	return req, nil
}

func decodeMessage(m wireMessage) (msg ir.Message, isSystem bool, sysText string) {
	if m.Role == "system" || m.Role == "developer" {
		return ir.Message{}, true, contentAsText(m.Content)
	}

	msg.Role = roleFromWire(m.Role)
	msg.Name = m.Name
	msg.ToolCallID = m.ToolCallID

	if m.Role == "tool" {
		msg.Parts = append(msg.Parts, ir.ToolResultPart{ToolCallID: m.ToolCallID, Content: contentAsText(m.Content)})
		return msg, false, ""
	}

	for _, p := range decodeContentParts(m.Content) {
		msg.Parts = append(msg.Parts, p)
	}
	for _, tc := range m.ToolCalls {
		msg.Parts = append(msg.Parts, ir.ToolCallPart{ID: tc.ID, Name: tc.Function.Name, ArgumentsRawJSON: []byte(tc.Function.Arguments)})
	}
	return msg, false, ""
}

func roleFromWire(r string) ir.Role {
	switch r {
	case "user":
		return ir.RoleUser
	case "assistant":
		return ir.RoleAssistant
	case "tool":
		return ir.RoleTool
	default:
		return ir.RoleUser
	}
}

func contentAsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

func decodeContentParts(raw json.RawMessage) []ir.Part {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []ir.Part{ir.TextPart{Text: s}}
	}

	var blocks []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL    string `json:"url"`
			Detail string `json:"detail"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	var parts []ir.Part
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			parts = append(parts, ir.TextPart{Text: blk.Text})
		case "image_url":
			parts = append(parts, ir.ImageURLPart{URL: blk.ImageURL.URL, Detail: blk.ImageURL.Detail})
		}
	}
	return parts
}

func decodeToolChoice(raw json.RawMessage) ir.ToolChoice {
	if len(raw) == 0 {
		return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "none":
			return ir.ToolChoice{Kind: ir.ToolChoiceNone}
		case "required":
			return ir.ToolChoice{Kind: ir.ToolChoiceRequired}
		default:
			return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
		}
	}
	var named struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && named.Function.Name != "" {
		return ir.ToolChoice{Kind: ir.ToolChoiceNamed, Name: named.Function.Name}
	}
	return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
}

// EncodeRequest serializes a canonical request into OpenAI Chat wire
// form.
func (Codec) EncodeRequest(req *ir.Request) ([]byte, error) {
	w := wireRequest{
		Model:            req.Model,
		Stream:           req.Stream,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		MaxTokens:        req.Params.MaxTokens,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		PresencePenalty:  req.Params.PresencePenalty,
		Seed:             req.Params.Seed,
		Stop:             req.Params.StopSequences,
	}

	if req.SystemPrompt != "" {
		w.Messages = append(w.Messages, wireMessage{Role: "system", Content: jsonString(req.SystemPrompt)})
	}
	for _, m := range req.Messages {
		w.Messages = append(w.Messages, encodeMessage(m))
	}

	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.ParametersSchemaRawJSON
		wt.Function.Strict = t.Strict
		w.Tools = append(w.Tools, wt)
	}
	w.ToolChoice = encodeToolChoice(req.ToolChoice)

	return json.Marshal(w)
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func encodeMessage(m ir.Message) wireMessage {
	wm := wireMessage{Role: wireRole(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}

	if m.Role == ir.RoleTool {
		for _, p := range m.Parts {
			if tr, ok := p.(ir.ToolResultPart); ok {
				wm.Content = jsonString(tr.Content)
				return wm
			}
		}
		return wm
	}

	var textParts []string
	for _, p := range m.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			textParts = append(textParts, v.Text)
		case ir.ToolCallPart:
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   v.ID,
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: v.Name, Arguments: string(v.ArgumentsRawJSON)},
			})
		}
	}
	if len(textParts) > 0 {
		wm.Content = jsonString(strings.Join(textParts, ""))
	}
	return wm
}

func wireRole(r ir.Role) string {
	switch r {
	case ir.RoleUser:
		return "user"
	case ir.RoleAssistant:
		return "assistant"
	case ir.RoleTool:
		return "tool"
	default:
		return "user"
	}
}

func encodeToolChoice(tc ir.ToolChoice) json.RawMessage {
	switch tc.Kind {
	case ir.ToolChoiceNone:
		return jsonString("none")
	case ir.ToolChoiceRequired:
		return jsonString("required")
	case ir.ToolChoiceNamed:
		b, _ := json.Marshal(map[string]any{"type": "function", "function": map[string]string{"name": tc.Name}})
		return b
	default:
		return nil
	}
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

// DecodeResponse parses a non-streaming OpenAI Chat response into
// canonical form.
func (Codec) DecodeResponse(body []byte) (*ir.Response, error) {
	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("openaichat: decode response: %w", err)
	}
	resp := &ir.Response{
		ID:    w.ID,
		Model: w.Model,
		Usage: ir.Usage{InputTokens: w.Usage.PromptTokens, OutputTokens: w.Usage.CompletionTokens, TotalTokens: w.Usage.TotalTokens},
	}
	if len(w.Choices) > 0 {
		c := w.Choices[0]
		msg, _, _ := decodeMessage(c.Message)
		resp.Parts = msg.Parts
		resp.StopReason = finishReasonFromWire(c.FinishReason)
	}
	return resp, nil
}

func finishReasonFromWire(s string) ir.FinishReason {
	switch s {
	case "stop":
		return ir.FinishStop
	case "length":
		return ir.FinishLength
	case "tool_calls":
		return ir.FinishToolCalls
	case "content_filter":
		return ir.FinishContentFilter
	default:
		return ir.FinishUnknown
	}
}

func wireFinishReason(fr ir.FinishReason) string {
	switch fr {
	case ir.FinishStop:
		return "stop"
	case ir.FinishLength:
		return "length"
	case ir.FinishToolCalls:
		return "tool_calls"
	case ir.FinishContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

// EncodeResponse serializes a canonical response into OpenAI Chat wire
// form.
func (Codec) EncodeResponse(resp *ir.Response) ([]byte, error) {
	msg := wireMessage{Role: "assistant"}
	var textParts []string
	for _, p := range resp.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			textParts = append(textParts, v.Text)
		case ir.ToolCallPart:
			msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
				ID:   v.ID,
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: v.Name, Arguments: string(v.ArgumentsRawJSON)},
			})
		}
	}
	if len(textParts) > 0 {
		msg.Content = jsonString(strings.Join(textParts, ""))
	}

	w := wireResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []wireChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: wireFinishReason(resp.StopReason),
		}},
		Usage: wireUsage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens},
	}
	return json.Marshal(w)
}

type wireStreamToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type wireStreamDelta struct {
	Role      string                     `json:"role,omitempty"`
	Content   string                     `json:"content,omitempty"`
	ToolCalls []wireStreamToolCallDelta `json:"tool_calls,omitempty"`
}

type wireStreamChoice struct {
	Index        int             `json:"index"`
	Delta        wireStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type wireStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Model   string             `json:"model"`
	Choices []wireStreamChoice `json:"choices"`
	Usage   *wireUsage         `json:"usage,omitempty"`
}

// DecodeStreamChunk parses one `data: …` payload (already stripped of
// the SSE framing) into canonical stream events.
func (Codec) DecodeStreamChunk(raw []byte) ([]ir.StreamEvent, error) {
	if string(raw) == "[DONE]" {
		return []ir.StreamEvent{{Kind: ir.EventDone}}, nil
	}
	var w wireStreamChunk
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("openaichat: decode stream chunk: %w", err)
	}

	var events []ir.StreamEvent
	if len(w.Choices) == 0 {
		if w.Usage != nil {
			events = append(events, ir.StreamEvent{Kind: ir.EventUsage, Usage: &ir.Usage{
				InputTokens: w.Usage.PromptTokens, OutputTokens: w.Usage.CompletionTokens, TotalTokens: w.Usage.TotalTokens,
			}})
		}
		return events, nil
	}

	for _, c := range w.Choices {
		if c.Delta.Role != "" {
			events = append(events, ir.StreamEvent{Kind: ir.EventMessageStart, Role: roleFromWire(c.Delta.Role)})
		}
		if c.Delta.Content != "" {
			events = append(events, ir.StreamEvent{Kind: ir.EventTextDelta, Delta: c.Delta.Content})
		}
		for _, tc := range c.Delta.ToolCalls {
			if tc.ID != "" {
				events = append(events, ir.StreamEvent{Kind: ir.EventToolCallStart, ToolCallIndex: tc.Index, ToolCallID: tc.ID, ToolCallName: tc.Function.Name})
			}
			if tc.Function.Arguments != "" {
				events = append(events, ir.StreamEvent{Kind: ir.EventToolCallArgs, ToolCallIndex: tc.Index, Delta: tc.Function.Arguments})
			}
		}
		if c.FinishReason != nil {
			events = append(events, ir.StreamEvent{Kind: ir.EventMessageEnd, StopReason: finishReasonFromWire(*c.FinishReason)})
		}
	}
	if w.Usage != nil {
		events = append(events, ir.StreamEvent{Kind: ir.EventUsage, Usage: &ir.Usage{
			InputTokens: w.Usage.PromptTokens, OutputTokens: w.Usage.CompletionTokens, TotalTokens: w.Usage.TotalTokens,
		}})
	}
	return events, nil
}

// EncodeStreamEvent serializes one canonical event into an OpenAI
// Chat-shaped `data: …\n\n` frame (or the terminal `[DONE]` frame).
func (Codec) EncodeStreamEvent(ev ir.StreamEvent) ([]string, error) {
	if ev.Kind == ir.EventDone {
		return []string{"data: [DONE]\n\n"}, nil
	}

	chunk := wireStreamChunk{Object: "chat.completion.chunk"}
	chunk.Choices = make([]wireStreamChoice, 1)

	switch ev.Kind {
	case ir.EventMessageStart:
		chunk.Choices[0].Delta.Role = wireRole(ev.Role)
	case ir.EventTextDelta:
		chunk.Choices[0].Delta.Content = ev.Delta
	case ir.EventToolCallStart:
		tc := wireStreamToolCallDelta{Index: ev.ToolCallIndex, ID: ev.ToolCallID}
		tc.Function.Name = ev.ToolCallName
		chunk.Choices[0].Delta.ToolCalls = append(chunk.Choices[0].Delta.ToolCalls, tc)
	case ir.EventToolCallArgs:
		tc := wireStreamToolCallDelta{Index: ev.ToolCallIndex}
		tc.Function.Arguments = ev.Delta
		chunk.Choices[0].Delta.ToolCalls = append(chunk.Choices[0].Delta.ToolCalls, tc)
	case ir.EventMessageEnd:
		fr := wireFinishReason(ev.StopReason)
		chunk.Choices[0].FinishReason = &fr
	case ir.EventUsage:
		chunk.Choices = nil
		chunk.Usage = &wireUsage{PromptTokens: ev.Usage.InputTokens, CompletionTokens: ev.Usage.OutputTokens, TotalTokens: ev.Usage.TotalTokens}
	default:
		return nil, nil
	}

	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	return []string{"data: " + string(b) + "\n\n"}, nil
}

// EncodeError serializes a gateway error into the OpenAI error shape.
func (Codec) EncodeError(status int, errType, message string) []byte {
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
			"param":   nil,
		},
	})
	return b
}

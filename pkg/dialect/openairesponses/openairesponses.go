// Package openairesponses implements the OpenAI Responses wire dialect
// codec (spec.md §6, C1): request/response/stream translation between
// the `/v1/responses` wire format and the canonical IR. The Responses
// API's `input` is an item list rather than a message list, and its
// streaming protocol emits named `response.*` event types inside
// unnamed `data: …` SSE frames (OpenAI/Gemini framing convention, but
// a distinct event-type vocabulary).
//
// Grounded on digitallysavvy-go-ai/pkg/providers/openresponses/
// api_types.go (OpenResponsesRequestBody/MessageItem/FunctionCallItem/
// OutputItem shapes), convert.go (ConvertToOpenResponsesInput's
// role-to-item-type mapping), finish_reason.go
// (MapOpenResponsesFinishReason), and language_model.go's
// response.output_text.delta / response.function_call_arguments.delta
// / response.completed event switch for the streaming protocol.
package openairesponses

import (
	"encoding/json"
	"fmt"

	"github.com/relaygate/llmgateway/pkg/ir"
)

// Codec implements dialect.Codec for OpenAI Responses.
type Codec struct{}

func New() *Codec { return &Codec{} }

type wireItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	ID        string          `json:"id,omitempty"`
	Status    string          `json:"status,omitempty"`
}

type wireContentPart struct {
	Type     string `json:"type"` // "input_text"/"output_text"/"input_image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type wireFunctionTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

type wireRequest struct {
	Model            string             `json:"model"`
	Input            json.RawMessage    `json:"input"`
	Instructions     string             `json:"instructions,omitempty"`
	MaxOutputTokens  *int               `json:"max_output_tokens,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	Tools            []wireFunctionTool `json:"tools,omitempty"`
	ToolChoice       json.RawMessage    `json:"tool_choice,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
}

// DecodeRequest parses an OpenAI Responses wire request into canonical
// form.
func (Codec) DecodeRequest(body []byte) (*ir.Request, error) {
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("openairesponses: decode request: %w", err)
	}

	req := &ir.Request{
		IngressAPI:   ir.IngressOpenAIResponses,
		Model:        w.Model,
		Stream:       w.Stream,
		SystemPrompt: w.Instructions,
		Params: ir.GenerationParams{
			Temperature:      w.Temperature,
			TopP:             w.TopP,
			MaxTokens:        w.MaxOutputTokens,
			FrequencyPenalty: w.FrequencyPenalty,
			PresencePenalty:  w.PresencePenalty,
		},
	}

	items, err := decodeInput(w.Input)
	if err != nil {
		return nil, fmt.Errorf("openairesponses: decode input: %w", err)
	}
	req.Messages = items

	for _, t := range w.Tools {
		req.Tools = append(req.Tools, ir.ToolSpec{
			Name:                    t.Name,
			Description:             t.Description,
			ParametersSchemaRawJSON: t.Parameters,
			Strict:                  t.Strict,
		})
	}
	req.ToolChoice = decodeToolChoice(w.ToolChoice)

	return req, nil
}

// decodeInput parses the polymorphic `input` field, which is either a
// plain string (shorthand for a single user message) or an item list.
func decodeInput(raw json.RawMessage) ([]ir.Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []ir.Message{{Role: ir.RoleUser, Parts: []ir.Part{ir.TextPart{Text: s}}}}, nil
	}

	var items []wireItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	var msgs []ir.Message
	for _, it := range items {
		switch it.Type {
		case "message":
			msgs = append(msgs, ir.Message{Role: roleFromWire(it.Role), Parts: decodeContentParts(it.Content)})
		case "function_call":
			msgs = append(msgs, ir.Message{Role: ir.RoleAssistant, Parts: []ir.Part{ir.ToolCallPart{
				ID: it.CallID, Name: it.Name, ArgumentsRawJSON: []byte(it.Arguments),
			}}})
		case "function_call_output":
			msgs = append(msgs, ir.Message{
				Role:       ir.RoleTool,
				ToolCallID: it.CallID,
				Parts:      []ir.Part{ir.ToolResultPart{ToolCallID: it.CallID, Content: outputAsText(it.Output)}},
			})
		}
	}
	return msgs, nil
}

func outputAsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
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
	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var out []ir.Part
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text":
			out = append(out, ir.TextPart{Text: p.Text})
		case "input_image":
			out = append(out, ir.ImageURLPart{URL: p.ImageURL})
		}
	}
	return out
}

func roleFromWire(r string) ir.Role {
	if r == "assistant" {
		return ir.RoleAssistant
	}
	if r == "system" || r == "developer" {
		return ir.RoleSystem
	}
	return ir.RoleUser
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
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && named.Type == "function" && named.Name != "" {
		return ir.ToolChoice{Kind: ir.ToolChoiceNamed, Name: named.Name}
	}
	return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
}

// EncodeRequest serializes a canonical request into OpenAI Responses
// wire form.
func (Codec) EncodeRequest(req *ir.Request) ([]byte, error) {
	w := wireRequest{
		Model:            req.Model,
		Instructions:     req.SystemPrompt,
		Stream:           req.Stream,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		MaxOutputTokens:  req.Params.MaxTokens,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		PresencePenalty:  req.Params.PresencePenalty,
	}

	var items []wireItem
	for _, m := range req.Messages {
		items = append(items, encodeMessage(m)...)
	}
	inputBytes, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	w.Input = inputBytes

	for _, t := range req.Tools {
		w.Tools = append(w.Tools, wireFunctionTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.ParametersSchemaRawJSON, Strict: t.Strict})
	}
	if raw := encodeToolChoice(req.ToolChoice); raw != nil {
		w.ToolChoice = raw
	}

	return json.Marshal(w)
}

func encodeMessage(m ir.Message) []wireItem {
	if m.Role == ir.RoleTool {
		var output string
		for _, p := range m.Parts {
			if tr, ok := p.(ir.ToolResultPart); ok {
				output = tr.Content
			}
		}
		out, _ := json.Marshal(output)
		return []wireItem{{Type: "function_call_output", CallID: m.ToolCallID, Output: out}}
	}

	var items []wireItem
	var contentParts []wireContentPart
	contentType := "input_text"
	if m.Role == ir.RoleAssistant {
		contentType = "output_text"
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			contentParts = append(contentParts, wireContentPart{Type: contentType, Text: v.Text})
		case ir.ImageURLPart:
			contentParts = append(contentParts, wireContentPart{Type: "input_image", ImageURL: v.URL})
		case ir.ToolCallPart:
			items = append(items, wireItem{Type: "function_call", CallID: v.ID, Name: v.Name, Arguments: string(v.ArgumentsRawJSON)})
		}
	}
	if len(contentParts) > 0 {
		content, _ := json.Marshal(contentParts)
		msgItem := wireItem{Type: "message", Role: wireRole(m.Role), Content: content}
		return append([]wireItem{msgItem}, items...)
	}
	return items
}

func wireRole(r ir.Role) string {
	switch r {
	case ir.RoleAssistant:
		return "assistant"
	case ir.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

func encodeToolChoice(tc ir.ToolChoice) json.RawMessage {
	switch tc.Kind {
	case ir.ToolChoiceNone:
		b, _ := json.Marshal("none")
		return b
	case ir.ToolChoiceRequired:
		b, _ := json.Marshal("required")
		return b
	case ir.ToolChoiceNamed:
		b, _ := json.Marshal(map[string]string{"type": "function", "name": tc.Name})
		return b
	default:
		return nil
	}
}

type wireUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

type wireOutputItem struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Content   []wireContentPart `json:"content,omitempty"`
	Status    string            `json:"status,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Arguments string            `json:"arguments,omitempty"`
}

type wireResponse struct {
	ID                string           `json:"id"`
	Object            string           `json:"object"`
	CreatedAt         int64            `json:"created_at"`
	Status            string           `json:"status"`
	Model             string           `json:"model"`
	Output            []wireOutputItem `json:"output"`
	Usage             *wireUsage       `json:"usage,omitempty"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details,omitempty"`
}

// DecodeResponse parses a non-streaming OpenAI Responses response into
// canonical form.
func (Codec) DecodeResponse(body []byte) (*ir.Response, error) {
	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("openairesponses: decode response: %w", err)
	}
	resp := &ir.Response{ID: w.ID, Model: w.Model}
	if w.Usage != nil {
		resp.Usage = ir.Usage{InputTokens: w.Usage.InputTokens, OutputTokens: w.Usage.OutputTokens, TotalTokens: w.Usage.TotalTokens}
	}

	hasToolCalls := false
	for _, item := range w.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					resp.Parts = append(resp.Parts, ir.TextPart{Text: c.Text})
				}
			}
		case "function_call":
			hasToolCalls = true
			resp.Parts = append(resp.Parts, ir.ToolCallPart{ID: item.CallID, Name: item.Name, ArgumentsRawJSON: []byte(item.Arguments)})
		}
	}

	incompleteReason := ""
	if w.IncompleteDetails != nil {
		incompleteReason = w.IncompleteDetails.Reason
	}
	resp.StopReason = finishReasonFromWire(w.Status, incompleteReason, hasToolCalls)
	return resp, nil
}

func finishReasonFromWire(status, incompleteReason string, hasToolCalls bool) ir.FinishReason {
	if hasToolCalls {
		return ir.FinishToolCalls
	}
	switch incompleteReason {
	case "max_output_tokens":
		return ir.FinishLength
	case "content_filter":
		return ir.FinishContentFilter
	}
	switch status {
	case "completed":
		return ir.FinishStop
	case "failed":
		return ir.FinishError
	default:
		return ir.FinishUnknown
	}
}

// EncodeResponse serializes a canonical response into OpenAI Responses
// wire form.
func (Codec) EncodeResponse(resp *ir.Response) ([]byte, error) {
	w := wireResponse{ID: resp.ID, Object: "response", Status: "completed", Model: resp.Model}
	if resp.StopReason == ir.FinishError {
		w.Status = "failed"
	}

	var contentParts []wireContentPart
	for _, p := range resp.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			contentParts = append(contentParts, wireContentPart{Type: "output_text", Text: v.Text})
		case ir.ToolCallPart:
			w.Output = append(w.Output, wireOutputItem{Type: "function_call", CallID: v.ID, Name: v.Name, Arguments: string(v.ArgumentsRawJSON), Status: "completed"})
		}
	}
	if len(contentParts) > 0 {
		w.Output = append([]wireOutputItem{{Type: "message", Role: "assistant", Content: contentParts, Status: "completed"}}, w.Output...)
	}

	w.Usage = &wireUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}
	return json.Marshal(w)
}

// wireStreamEvent mirrors the Responses API's `response.*` named
// event-type vocabulary, all delivered inside unnamed `data: …` SSE
// frames (distinct from Anthropic's named-SSE-event framing).
type wireStreamEvent struct {
	Type        string          `json:"type"`
	OutputIndex int             `json:"output_index,omitempty"`
	ItemID      string          `json:"item_id,omitempty"`
	Item        *wireOutputItem `json:"item,omitempty"`
	Delta       string          `json:"delta,omitempty"`
	CallID      string          `json:"call_id,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`
	Response    *wireResponse   `json:"response,omitempty"`
}

// DecodeStreamChunk parses one Responses API `data: …` payload.
func (Codec) DecodeStreamChunk(raw []byte) ([]ir.StreamEvent, error) {
	var w wireStreamEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("openairesponses: decode stream event: %w", err)
	}

	switch w.Type {
	case "response.output_item.added":
		if w.Item != nil && w.Item.Type == "message" {
			return []ir.StreamEvent{{Kind: ir.EventMessageStart, Role: ir.RoleAssistant}}, nil
		}
		if w.Item != nil && w.Item.Type == "function_call" {
			return []ir.StreamEvent{{Kind: ir.EventToolCallStart, ToolCallIndex: w.OutputIndex, ToolCallID: w.Item.CallID, ToolCallName: w.Item.Name}}, nil
		}
		return nil, nil
	case "response.output_text.delta":
		return []ir.StreamEvent{{Kind: ir.EventTextDelta, Delta: w.Delta}}, nil
	case "response.function_call_arguments.delta":
		return []ir.StreamEvent{{Kind: ir.EventToolCallArgs, ToolCallIndex: w.OutputIndex, Delta: w.Delta}}, nil
	case "response.output_item.done":
		return []ir.StreamEvent{{Kind: ir.EventToolCallEnd, ToolCallIndex: w.OutputIndex}}, nil
	case "response.completed":
		events := []ir.StreamEvent{{Kind: ir.EventMessageEnd, StopReason: ir.FinishStop}}
		if w.Response != nil && w.Response.Usage != nil {
			events = append(events, ir.StreamEvent{Kind: ir.EventUsage, Usage: &ir.Usage{
				InputTokens: w.Response.Usage.InputTokens, OutputTokens: w.Response.Usage.OutputTokens, TotalTokens: w.Response.Usage.TotalTokens,
			}})
		}
		events = append(events, ir.StreamEvent{Kind: ir.EventDone})
		return events, nil
	case "response.incomplete", "response.failed":
		return []ir.StreamEvent{{Kind: ir.EventMessageEnd, StopReason: ir.FinishError}, {Kind: ir.EventDone}}, nil
	case "error":
		return []ir.StreamEvent{{Kind: ir.EventError, ErrorMessage: w.Delta}}, nil
	default:
		return nil, nil
	}
}

// EncodeStreamEvent serializes one canonical event into a Responses-
// shaped `data: …\n\n` frame.
func (Codec) EncodeStreamEvent(ev ir.StreamEvent) ([]string, error) {
	var w wireStreamEvent
	switch ev.Kind {
	case ir.EventMessageStart:
		w = wireStreamEvent{Type: "response.output_item.added", Item: &wireOutputItem{Type: "message", Role: "assistant"}}
	case ir.EventTextDelta:
		w = wireStreamEvent{Type: "response.output_text.delta", Delta: ev.Delta}
	case ir.EventToolCallStart:
		w = wireStreamEvent{Type: "response.output_item.added", OutputIndex: ev.ToolCallIndex, Item: &wireOutputItem{Type: "function_call", CallID: ev.ToolCallID, Name: ev.ToolCallName}}
	case ir.EventToolCallArgs:
		w = wireStreamEvent{Type: "response.function_call_arguments.delta", OutputIndex: ev.ToolCallIndex, Delta: ev.Delta}
	case ir.EventToolCallEnd:
		w = wireStreamEvent{Type: "response.output_item.done", OutputIndex: ev.ToolCallIndex}
	case ir.EventMessageEnd:
		w = wireStreamEvent{Type: "response.completed", Response: &wireResponse{Status: "completed"}}
	case ir.EventDone:
		return []string{"data: [DONE]\n\n"}, nil
	default:
		return nil, nil
	}

	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return []string{"data: " + string(b) + "\n\n"}, nil
}

// EncodeError serializes a gateway error into the OpenAI error shape
// (Responses reuses the Chat error envelope per spec.md §6).
func (Codec) EncodeError(status int, errType, message string) []byte {
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"param":   nil,
			"code":    status,
		},
	})
	return b
}

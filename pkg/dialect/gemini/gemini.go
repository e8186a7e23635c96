// Package gemini implements the Google Gemini GenerateContent wire
// dialect codec (spec.md §6, C1): request/response/stream translation
// between the `/v1beta/models/{model}:{action}` wire format and the
// canonical IR.
//
// Grounded on digitallysavvy-go-ai/pkg/providers/google/
// language_model.go (buildRequestBody's contents/systemInstruction/
// generationConfig shape, convertResponse's candidate/part walk,
// googleStream's SSE accumulation) for the JSON shapes; SSE frame text
// is built in this package.
package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/relaygate/llmgateway/pkg/ir"
)

// Codec implements dialect.Codec for Gemini GenerateContent.
type Codec struct{}

func New() *Codec { return &Codec{} }

type wireFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type wirePart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *wireInlineData       `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDeclaration `json:"functionDeclarations"`
}

type wireGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
}

type wireRequest struct {
	Contents          []wireContent         `json:"contents"`
	SystemInstruction *wireContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *wireGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []wireTool            `json:"tools,omitempty"`
	ToolConfig        json.RawMessage       `json:"toolConfig,omitempty"`
}

// DecodeRequest parses a Gemini GenerateContent wire request into
// canonical form.
func (Codec) DecodeRequest(body []byte) (*ir.Request, error) {
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("gemini: decode request: %w", err)
	}

	req := &ir.Request{IngressAPI: ir.IngressGemini}

	if w.SystemInstruction != nil {
		for _, p := range w.SystemInstruction.Parts {
			req.SystemPrompt += p.Text
		}
	}
	if w.GenerationConfig != nil {
		req.Params.Temperature = w.GenerationConfig.Temperature
		req.Params.MaxTokens = w.GenerationConfig.MaxOutputTokens
		req.Params.TopP = w.GenerationConfig.TopP
		req.Params.TopK = w.GenerationConfig.TopK
		req.Params.StopSequences = w.GenerationConfig.StopSequences
	}

	for _, c := range w.Contents {
		req.Messages = append(req.Messages, decodeContent(c))
	}

	for _, t := range w.Tools {
		for _, fd := range t.FunctionDeclarations {
			req.Tools = append(req.Tools, ir.ToolSpec{
				Name:                    fd.Name,
				Description:             fd.Description,
				ParametersSchemaRawJSON: fd.Parameters,
			})
		}
	}
	req.ToolChoice = decodeToolConfig(w.ToolConfig)

	return req, nil
}

func decodeContent(c wireContent) ir.Message {
	msg := ir.Message{Role: roleFromWire(c.Role)}
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			msg.Parts = append(msg.Parts, ir.ToolCallPart{Name: p.FunctionCall.Name, ID: p.FunctionCall.Name, ArgumentsRawJSON: p.FunctionCall.Args})
		case p.FunctionResponse != nil:
			msg.ToolCallID = p.FunctionResponse.Name
			msg.Parts = append(msg.Parts, ir.ToolResultPart{ToolCallID: p.FunctionResponse.Name, Content: string(p.FunctionResponse.Response)})
		case p.InlineData != nil:
			msg.Parts = append(msg.Parts, ir.ImageURLPart{URL: "data:" + p.InlineData.MimeType + ";base64," + p.InlineData.Data})
		case p.Text != "":
			msg.Parts = append(msg.Parts, ir.TextPart{Text: p.Text})
		}
	}
	return msg
}

func roleFromWire(r string) ir.Role {
	if r == "model" {
		return ir.RoleAssistant
	}
	return ir.RoleUser
}

func decodeToolConfig(raw json.RawMessage) ir.ToolChoice {
	if len(raw) == 0 {
		return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
	}
	var tc struct {
		FunctionCallingConfig struct {
			Mode                 string   `json:"mode"`
			AllowedFunctionNames []string `json:"allowedFunctionNames"`
		} `json:"functionCallingConfig"`
	}
	if err := json.Unmarshal(raw, &tc); err != nil {
		return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
	}
	switch tc.FunctionCallingConfig.Mode {
	case "NONE":
		return ir.ToolChoice{Kind: ir.ToolChoiceNone}
	case "ANY":
		if len(tc.FunctionCallingConfig.AllowedFunctionNames) == 1 {
			return ir.ToolChoice{Kind: ir.ToolChoiceNamed, Name: tc.FunctionCallingConfig.AllowedFunctionNames[0]}
		}
		return ir.ToolChoice{Kind: ir.ToolChoiceRequired}
	default:
		return ir.ToolChoice{Kind: ir.ToolChoiceAuto}
	}
}

// EncodeRequest serializes a canonical request into Gemini
// GenerateContent wire form.
func (Codec) EncodeRequest(req *ir.Request) ([]byte, error) {
	w := wireRequest{}

	if req.SystemPrompt != "" {
		w.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemPrompt}}}
	}

	gc := wireGenerationConfig{
		Temperature:     req.Params.Temperature,
		MaxOutputTokens: req.Params.MaxTokens,
		TopP:            req.Params.TopP,
		TopK:            req.Params.TopK,
		StopSequences:   req.Params.StopSequences,
	}
	if gc.Temperature != nil || gc.MaxOutputTokens != nil || gc.TopP != nil || gc.TopK != nil || len(gc.StopSequences) > 0 {
		w.GenerationConfig = &gc
	}

	for _, m := range req.Messages {
		w.Contents = append(w.Contents, encodeMessage(m))
	}

	if len(req.Tools) > 0 {
		var decls []wireFunctionDeclaration
		for _, t := range req.Tools {
			decls = append(decls, wireFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.ParametersSchemaRawJSON})
		}
		w.Tools = []wireTool{{FunctionDeclarations: decls}}
	}
	if raw := encodeToolConfig(req.ToolChoice); raw != nil {
		w.ToolConfig = raw
	}

	return json.Marshal(w)
}

func encodeMessage(m ir.Message) wireContent {
	wc := wireContent{Role: wireRole(m.Role)}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			wc.Parts = append(wc.Parts, wirePart{Text: v.Text})
		case ir.ToolCallPart:
			args := v.ArgumentsRawJSON
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			wc.Parts = append(wc.Parts, wirePart{FunctionCall: &wireFunctionCall{Name: v.Name, Args: args}})
		case ir.ToolResultPart:
			resp, _ := json.Marshal(map[string]string{"content": v.Content})
			wc.Parts = append(wc.Parts, wirePart{FunctionResponse: &wireFunctionResponse{Name: m.ToolCallID, Response: resp}})
		case ir.ImageURLPart:
			wc.Parts = append(wc.Parts, wirePart{InlineData: &wireInlineData{MimeType: "image/png", Data: v.URL}})
		}
	}
	return wc
}

func wireRole(r ir.Role) string {
	if r == ir.RoleAssistant {
		return "model"
	}
	return "user"
}

func encodeToolConfig(tc ir.ToolChoice) json.RawMessage {
	switch tc.Kind {
	case ir.ToolChoiceNone:
		b, _ := json.Marshal(map[string]any{"functionCallingConfig": map[string]string{"mode": "NONE"}})
		return b
	case ir.ToolChoiceRequired:
		b, _ := json.Marshal(map[string]any{"functionCallingConfig": map[string]string{"mode": "ANY"}})
		return b
	case ir.ToolChoiceNamed:
		b, _ := json.Marshal(map[string]any{"functionCallingConfig": map[string]any{"mode": "ANY", "allowedFunctionNames": []string{tc.Name}}})
		return b
	default:
		return nil
	}
}

type wireUsageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	TotalTokenCount      int64 `json:"totalTokenCount"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason"`
	Index        int         `json:"index"`
}

type wireResponse struct {
	Candidates    []wireCandidate    `json:"candidates"`
	UsageMetadata *wireUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string             `json:"modelVersion,omitempty"`
}

// DecodeResponse parses a non-streaming Gemini response into canonical
// form.
func (Codec) DecodeResponse(body []byte) (*ir.Response, error) {
	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	resp := &ir.Response{Model: w.ModelVersion}
	if w.UsageMetadata != nil {
		resp.Usage = ir.Usage{
			InputTokens:  w.UsageMetadata.PromptTokenCount,
			OutputTokens: w.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  w.UsageMetadata.TotalTokenCount,
		}
	}
	if len(w.Candidates) > 0 {
		c := w.Candidates[0]
		msg := decodeContent(c.Content)
		resp.Parts = msg.Parts
		resp.StopReason = finishReasonFromWire(c.FinishReason)
	}
	return resp, nil
}

func finishReasonFromWire(s string) ir.FinishReason {
	switch s {
	case "STOP":
		return ir.FinishStop
	case "MAX_TOKENS":
		return ir.FinishLength
	case "SAFETY", "RECITATION":
		return ir.FinishContentFilter
	default:
		return ir.FinishUnknown
	}
}

func wireFinishReason(fr ir.FinishReason, hasToolCalls bool) string {
	if hasToolCalls {
		return "STOP"
	}
	switch fr {
	case ir.FinishLength:
		return "MAX_TOKENS"
	case ir.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

// EncodeResponse serializes a canonical response into Gemini
// GenerateContent wire form.
func (Codec) EncodeResponse(resp *ir.Response) ([]byte, error) {
	wc := wireContent{Role: "model"}
	hasToolCalls := false
	for _, p := range resp.Parts {
		switch v := p.(type) {
		case ir.TextPart:
			wc.Parts = append(wc.Parts, wirePart{Text: v.Text})
		case ir.ToolCallPart:
			hasToolCalls = true
			args := v.ArgumentsRawJSON
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			wc.Parts = append(wc.Parts, wirePart{FunctionCall: &wireFunctionCall{Name: v.Name, Args: args}})
		}
	}

	w := wireResponse{
		Candidates: []wireCandidate{{
			Content:      wc,
			FinishReason: wireFinishReason(resp.StopReason, hasToolCalls),
			Index:        0,
		}},
		UsageMetadata: &wireUsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(w)
}

type wireStreamChunk struct {
	Candidates    []wireCandidate    `json:"candidates"`
	UsageMetadata *wireUsageMetadata `json:"usageMetadata,omitempty"`
}

// DecodeStreamChunk parses one Gemini `data: …` payload into canonical
// stream events. Gemini's SSE stream carries whole-candidate deltas
// (not field-level deltas like OpenAI/Anthropic), so each chunk maps
// to exactly the text/tool-call content newly present in it.
func (Codec) DecodeStreamChunk(raw []byte) ([]ir.StreamEvent, error) {
	var w wireStreamChunk
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("gemini: decode stream chunk: %w", err)
	}

	var events []ir.StreamEvent
	if len(w.Candidates) > 0 {
		c := w.Candidates[0]
		for i, p := range c.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				events = append(events, ir.StreamEvent{Kind: ir.EventToolCallStart, ToolCallIndex: i, ToolCallID: p.FunctionCall.Name, ToolCallName: p.FunctionCall.Name})
				events = append(events, ir.StreamEvent{Kind: ir.EventToolCallArgs, ToolCallIndex: i, Delta: string(p.FunctionCall.Args)})
			case p.Text != "":
				events = append(events, ir.StreamEvent{Kind: ir.EventTextDelta, Delta: p.Text})
			}
		}
		if c.FinishReason != "" {
			events = append(events, ir.StreamEvent{Kind: ir.EventMessageEnd, StopReason: finishReasonFromWire(c.FinishReason)})
		}
	}
	if w.UsageMetadata != nil {
		events = append(events, ir.StreamEvent{Kind: ir.EventUsage, Usage: &ir.Usage{
			InputTokens: w.UsageMetadata.PromptTokenCount, OutputTokens: w.UsageMetadata.CandidatesTokenCount, TotalTokens: w.UsageMetadata.TotalTokenCount,
		}})
	}
	return events, nil
}

// EncodeStreamEvent serializes one canonical event into a Gemini-
// shaped `data: …\n\n` frame. There is no terminal `[DONE]` frame in
// Gemini's own protocol; the engine still emits one to the client so
// the downstream SSE shape stays uniform with OpenAI, matching how the
// gateway's own streaming layer is documented to behave in spec.md §6.
func (Codec) EncodeStreamEvent(ev ir.StreamEvent) ([]string, error) {
	if ev.Kind == ir.EventDone {
		return []string{"data: [DONE]\n\n"}, nil
	}

	chunk := wireStreamChunk{}
	cand := wireCandidate{}
	switch ev.Kind {
	case ir.EventTextDelta:
		cand.Content.Parts = []wirePart{{Text: ev.Delta}}
	case ir.EventToolCallStart:
		cand.Content.Parts = []wirePart{{FunctionCall: &wireFunctionCall{Name: ev.ToolCallName}}}
	case ir.EventToolCallArgs:
		cand.Content.Parts = []wirePart{{FunctionCall: &wireFunctionCall{Args: json.RawMessage(ev.Delta)}}}
	case ir.EventMessageEnd:
		cand.FinishReason = wireFinishReason(ev.StopReason, false)
	case ir.EventUsage:
		chunk.UsageMetadata = &wireUsageMetadata{PromptTokenCount: ev.Usage.InputTokens, CandidatesTokenCount: ev.Usage.OutputTokens, TotalTokenCount: ev.Usage.TotalTokens}
		b, err := json.Marshal(chunk)
		if err != nil {
			return nil, err
		}
		return []string{"data: " + string(b) + "\n\n"}, nil
	default:
		return nil, nil
	}
	chunk.Candidates = []wireCandidate{cand}

	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	return []string{"data: " + string(b) + "\n\n"}, nil
}

// EncodeError serializes a gateway error into the Gemini error shape
// (spec.md §6: `{error:{code, message, status}}`).
func (Codec) EncodeError(status int, errType, message string) []byte {
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"status":  errType,
		},
	})
	return b
}

// Package dialect defines the Codec interface each of the four wire
// formats implements (spec.md §6/§9 "wire-format codecs ... appear
// only as interfaces the core consumes"), plus the shared synthesized-
// system-message helper used by the FC inject path.
package dialect

import (
	"github.com/relaygate/llmgateway/pkg/ir"
)

// Codec converts between one wire dialect and the canonical IR. The
// engine (C8) is the only caller; every method must be safe for
// concurrent use since a single Codec instance is shared process-wide.
type Codec interface {
	// DecodeRequest parses a wire request body into canonical form.
	DecodeRequest(body []byte) (*ir.Request, error)
	// EncodeRequest serializes a canonical request into this dialect's
	// wire body.
	EncodeRequest(req *ir.Request) ([]byte, error)
	// DecodeResponse parses a non-streaming wire response into
	// canonical form.
	DecodeResponse(body []byte) (*ir.Response, error)
	// EncodeResponse serializes a canonical response into this
	// dialect's wire body.
	EncodeResponse(resp *ir.Response) ([]byte, error)
	// DecodeStreamChunk parses one upstream SSE data payload into zero
	// or more canonical stream events (some wire frames — e.g. a
	// keep-alive comment — yield none).
	DecodeStreamChunk(raw []byte) ([]ir.StreamEvent, error)
	// EncodeStreamEvent serializes one canonical stream event into
	// this dialect's wire SSE frame(s). The returned slice holds
	// complete `event:`/`data:` frame text ready to write, already
	// terminated with the blank-line frame separator.
	EncodeStreamEvent(ev ir.StreamEvent) ([]string, error)
	// EncodeError serializes a gateway error into this dialect's error
	// response shape (spec.md §6).
	EncodeError(status int, errType, message string) []byte
}

// SynthesizedSystemPrompt returns the canned system message injected
// at position 0 of the messages array for the FC inject path (spec.md
// §4.7 phase 7, and the full canonical-inject flow), instructing the
// model to emit a fenced tool-call block that the inject-mode FC
// parser then extracts.
func SynthesizedSystemPrompt(tools []ir.ToolSpec) string {
	var b []byte
	b = append(b, "You have access to the following tools. When you need to call one, "...)
	b = append(b, "respond with a single fenced JSON block of the form:\n"...)
	b = append(b, "```tool_call\n{\"name\": \"<tool name>\", \"arguments\": { ... }}\n```\n\n"...)
	b = append(b, "Available tools:\n"...)
	for _, t := range tools {
		b = append(b, "- "...)
		b = append(b, t.Name...)
		if t.Description != "" {
			b = append(b, ": "...)
			b = append(b, t.Description...)
		}
		b = append(b, '\n')
	}
	return string(b)
}

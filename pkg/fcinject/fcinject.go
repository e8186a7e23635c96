// Package fcinject extracts a synthesized tool call out of a model's
// plain-text completion for the FC-inject path (spec.md §4.7 phase 7
// and the canonical inject flow): when a candidate upstream has no
// native function-calling support, the gateway asks it in a system
// prompt (dialect.SynthesizedSystemPrompt) to emit a fenced
// ```tool_call``` JSON block instead, and this package parses that
// block back out into a canonical ir.ToolCallPart.
//
// Grounded on digitallysavvy-go-ai/pkg/middleware/extract_json.go's
// markdown-fence-stripping transform (regexp-based open/close fence
// removal, with a streaming variant that buffers a suffix window) —
// generalized here from "strip fences, return raw JSON" to "strip
// fences, parse the name/arguments shape, and validate the name
// against the tool list the engine is holding open for this request".
package fcinject

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/relaygate/llmgateway/pkg/gwerrors"
	"github.com/relaygate/llmgateway/pkg/ir"
)

var (
	openFence  = regexp.MustCompile("^```(?:tool_call|json)?\\s*\\n?")
	closeFence = regexp.MustCompile("\\n?```\\s*$")
)

type wireCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Extract scans text for a single fenced tool-call block. It returns
// ok=false (no error) when text carries no fence at all — that is the
// common case where the model simply answered in plain prose. When a
// fence is present but its contents don't parse as {name, arguments}
// or name doesn't match any tool in knownTools, it returns a
// gwerrors.FcParse error.
func Extract(text string, knownTools []ir.ToolSpec) (call ir.ToolCallPart, ok bool, err error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return ir.ToolCallPart{}, false, nil
	}

	body := openFence.ReplaceAllString(trimmed, "")
	body = closeFence.ReplaceAllString(body, "")
	body = strings.TrimSpace(body)

	var wc wireCall
	if err := json.Unmarshal([]byte(body), &wc); err != nil {
		return ir.ToolCallPart{}, false, gwerrors.NewFcParse("fenced block is not a valid tool call", err)
	}
	if wc.Name == "" {
		return ir.ToolCallPart{}, false, gwerrors.NewFcParse("tool call is missing a name", nil)
	}
	if !knownToolName(knownTools, wc.Name) {
		return ir.ToolCallPart{}, false, gwerrors.NewFcParse("tool call names an unknown tool: "+wc.Name, nil)
	}

	args := wc.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ir.ToolCallPart{ID: syntheticID(wc.Name), Name: wc.Name, ArgumentsRawJSON: args}, true, nil
}

func knownToolName(tools []ir.ToolSpec, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// syntheticID fabricates a stable-enough tool_call_id for inject-mode
// calls, which (unlike native function calling) never receive one from
// the upstream. Collisions only matter within a single response's
// tool-result round trip, so a name-derived id is sufficient.
func syntheticID(name string) string {
	return "fcinject_" + name
}

package ir

// Usage is the canonical token accounting. The gateway only passes
// this through (spec Non-goals exclude billing/quota); it is never
// aggregated across requests.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// FinishReason is the closed set of canonical stop reasons.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength         FinishReason = "length"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishContentFilter  FinishReason = "content_filter"
	FinishError          FinishReason = "error"
	FinishUnknown        FinishReason = "unknown"
)

package ir

// StreamEventKind is the closed set of canonical stream event variants.
type StreamEventKind string

const (
	EventMessageStart    StreamEventKind = "message_start"
	EventTextDelta       StreamEventKind = "text_delta"
	EventReasoningDelta  StreamEventKind = "reasoning_delta"
	EventToolCallStart   StreamEventKind = "tool_call_start"
	EventToolCallArgs    StreamEventKind = "tool_call_args_delta"
	EventToolCallEnd     StreamEventKind = "tool_call_end"
	EventToolResult      StreamEventKind = "tool_result"
	EventUsage           StreamEventKind = "usage"
	EventMessageEnd      StreamEventKind = "message_end"
	EventDone            StreamEventKind = "done"
	EventError           StreamEventKind = "error"
)

// StreamEvent is a single canonical SSE-equivalent frame. Exactly one
// of the optional fields is meaningful, selected by Kind; this mirrors
// the teacher's StreamChunk/ChunkType pairing (pkg/provider/language_model.go)
// generalized to the richer event set this gateway needs.
type StreamEvent struct {
	Kind StreamEventKind

	// MessageStart
	Role Role

	// TextDelta / ReasoningDelta
	Delta string

	// ToolCallStart / ToolCallArgsDelta / ToolCallEnd
	ToolCallIndex int
	ToolCallID    string
	ToolCallName  string

	// Usage
	Usage *Usage

	// MessageEnd
	StopReason FinishReason

	// Error
	ErrorStatus  int
	ErrorMessage string
}

package ir

// GenerationParams mirrors the sampling/shape knobs every dialect
// exposes in some form; a codec leaves a field zero-valued when its
// wire dialect has no equivalent.
type GenerationParams struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	TopK             *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	Seed             *int
}

// Request is the canonical, ingress-agnostic form of an inbound
// generation request (spec.md §3 CanonicalRequest).
type Request struct {
	RequestID    [16]byte
	IngressAPI   IngressAPI
	Model        string // mutable during failover: rewritten to each candidate's real model
	Stream       bool
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec // shared/immutable — see ToolSpec doc
	ToolChoice   ToolChoice
	Params       GenerationParams

	// ProviderExtensions preserves provider-specific top-level fields
	// verbatim through a decode→encode round trip (e.g. Anthropic
	// `metadata`, Gemini `safetySettings`, OpenAI `logit_bias`).
	ProviderExtensions map[string]any
}

// HasTools reports whether the request carries a non-empty tool list.
// An empty array after whitespace-trimming counts as no tools (spec
// §4.7 edge case).
func (r *Request) HasTools() bool {
	return len(r.Tools) > 0
}

// Response is the canonical form of a completed (non-streaming)
// generation result.
type Response struct {
	ID                 string
	Model              string
	Parts              []Part
	StopReason         FinishReason
	Usage              Usage
	ProviderExtensions map[string]any
}

package engine

import (
	"encoding/json"
	"strings"

	"github.com/relaygate/llmgateway/pkg/breaker"
	"github.com/relaygate/llmgateway/pkg/gwerrors"
	"github.com/relaygate/llmgateway/pkg/telemetry"
)

// toolsUnsupportedStatuses and the two substring sets implement the
// exact "native tools unsupported" signature match of spec.md §4.7
// phase 5 (Channel-B auto-fallback detection).
var toolsUnsupportedStatuses = map[int]bool{400: true, 404: true, 422: true, 501: true}

var toolMentionSubstrings = []string{
	"tool_choice", "function_call", "function calling", "tools", "tool", "function call",
}

var unsupportedMentionSubstrings = []string{
	"unsupported", "does not support", "doesn't support", "not support",
	"not implemented", "unrecognized request argument", "unknown field",
	"unknown parameter", "invalid parameter", "not available",
}

// isNativeToolsUnsupportedSignature reports whether an upstream error
// matches the auto-fallback trigger: status in the tools-unsupported
// set, message mentions tools/tool_choice/function-calling AND
// mentions some form of "unsupported".
func isNativeToolsUnsupportedSignature(status int, message string) bool {
	if !toolsUnsupportedStatuses[status] {
		return false
	}
	lower := strings.ToLower(message)
	return containsAny(lower, toolMentionSubstrings) && containsAny(lower, unsupportedMentionSubstrings)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// classifyUpstreamResponse converts a non-2xx HTTP response body into
// a *gwerrors.Error, extracting the dialect's own error message field
// where possible so the auto-fallback signature match has real text
// to scan (spec.md §7 "sanitized extraction of the upstream's error
// message field").
func classifyUpstreamResponse(status int, body []byte) *gwerrors.Error {
	msg := extractUpstreamMessage(body)
	return gwerrors.NewUpstream(status, msg)
}

// extractUpstreamMessage covers the three error envelopes spec.md §6
// names (OpenAI/Anthropic nest "message" one level under "error";
// Gemini does too) plus a flat top-level "message" fallback.
func extractUpstreamMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Message != "" {
		return flat.Message
	}
	return string(body)
}

// recordOutcome reports a candidate's attempt result to the breaker
// registry, per spec.md §4.3: a success clears the entry, only
// Transport errors and upstream {429, 529, 5xx} count as breaker
// failures, and any other error (including a non-retriable 4xx) leaves
// the breaker untouched. It also records the per-candidate attempt
// metric and, for each breaker-counted failure, the trip counter.
func recordOutcome(breakers *breaker.Registry, upstreamName string, upstreamIndex int, model string, err error) {
	if err == nil {
		breakers.RecordSuccess(upstreamIndex, model)
		telemetry.CandidateAttemptsTotal.WithLabelValues(upstreamName, "ok").Inc()
		return
	}
	outcome := "error"
	if gwErr, ok := gwerrors.As(err); ok {
		outcome = string(gwErr.Category)
		if gwErr.TripsBreaker() {
			breakers.RecordFailure(upstreamIndex, model)
			telemetry.BreakerTripsTotal.WithLabelValues(upstreamName).Inc()
		}
	}
	telemetry.CandidateAttemptsTotal.WithLabelValues(upstreamName, outcome).Inc()
	// A non-breaker-tripping error (e.g. a plain 4xx client error)
	// leaves the breaker state untouched — it is neither a success nor
	// a counted failure per spec.md §4.3.
}

// failoverEligible reports whether the failover walk may continue to
// the next candidate after this error (spec.md §4.7 "Failure
// semantics").
func failoverEligible(err error) bool {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		return false
	}
	return gwErr.Retriable()
}

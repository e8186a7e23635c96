package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaygate/llmgateway/pkg/breaker"
	"github.com/relaygate/llmgateway/pkg/gwerrors"
)

func TestIsNativeToolsUnsupportedSignatureMatches(t *testing.T) {
	assert.True(t, isNativeToolsUnsupportedSignature(400, "tools are not supported for this model"))
	assert.True(t, isNativeToolsUnsupportedSignature(422, "function_call is not implemented"))
}

func TestIsNativeToolsUnsupportedSignatureRejectsUnrelatedError(t *testing.T) {
	assert.False(t, isNativeToolsUnsupportedSignature(400, "invalid api key"))
	assert.False(t, isNativeToolsUnsupportedSignature(500, "tools are not supported"), "5xx is not in the unsupported-status set")
}

func TestExtractUpstreamMessageNestedError(t *testing.T) {
	body := []byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
	assert.Equal(t, "rate limited", extractUpstreamMessage(body))
}

func TestExtractUpstreamMessageFlatFallback(t *testing.T) {
	body := []byte(`{"message":"bad request"}`)
	assert.Equal(t, "bad request", extractUpstreamMessage(body))
}

func TestExtractUpstreamMessageFallsBackToRawBody(t *testing.T) {
	body := []byte(`not json at all`)
	assert.Equal(t, "not json at all", extractUpstreamMessage(body))
}

func TestRecordOutcomeSuccessClearsBreaker(t *testing.T) {
	reg := breaker.New(1)
	reg.RecordFailure(0, "gpt-4")
	recordOutcome(reg, "test-upstream", 0, "gpt-4", nil)
	assert.Equal(t, breaker.Allow, reg.Check(0, "gpt-4"))
}

func TestRecordOutcomeNonTrippingErrorLeavesBreakerUntouched(t *testing.T) {
	reg := breaker.New(1)
	err := gwerrors.NewUpstream(400, "bad request")
	recordOutcome(reg, "test-upstream", 0, "gpt-4", err)
	assert.Equal(t, breaker.Allow, reg.Check(0, "gpt-4"), "a plain 4xx must not trip or clear the breaker")
}

func TestRecordOutcomeUpstream5xxTripsBreaker(t *testing.T) {
	reg := breaker.New(1)
	for i := 0; i < 5; i++ {
		recordOutcome(reg, "test-upstream", 0, "gpt-4", gwerrors.NewUpstream(503, "unavailable"))
	}
	assert.Equal(t, breaker.Deny, reg.Check(0, "gpt-4"))
}

func TestFailoverEligibleRetriableUpstream(t *testing.T) {
	assert.True(t, failoverEligible(gwerrors.NewUpstream(503, "unavailable")))
	assert.True(t, failoverEligible(gwerrors.NewTransport("dial failed", nil)))
}

func TestFailoverEligibleNonRetriable(t *testing.T) {
	assert.False(t, failoverEligible(gwerrors.NewUpstream(400, "bad request")))
	assert.False(t, failoverEligible(gwerrors.NewAuth("invalid key")))
}

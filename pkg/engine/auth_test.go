package engine

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaygate/llmgateway/pkg/ir"
)

func TestExtractAuthKeyBearerForOpenAIChat(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-test-123")
	key, err := extractAuthKey(ir.IngressOpenAIChat, h)
	assert.NoError(t, err)
	assert.Equal(t, []byte("sk-test-123"), key)
}

func TestExtractAuthKeyAnthropicUsesXAPIKey(t *testing.T) {
	h := http.Header{}
	h.Set("x-api-key", "anthropic-key")
	key, err := extractAuthKey(ir.IngressAnthropic, h)
	assert.NoError(t, err)
	assert.Equal(t, []byte("anthropic-key"), key)
}

func TestExtractAuthKeyAnthropicIgnoresBearer(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer should-not-be-used")
	_, err := extractAuthKey(ir.IngressAnthropic, h)
	assert.Error(t, err)
}

func TestExtractAuthKeyGeminiPrefersGoogHeader(t *testing.T) {
	h := http.Header{}
	h.Set("x-goog-api-key", "goog-key")
	h.Set("Authorization", "Bearer fallback")
	key, err := extractAuthKey(ir.IngressGemini, h)
	assert.NoError(t, err)
	assert.Equal(t, []byte("goog-key"), key)
}

func TestExtractAuthKeyGeminiFallsBackToBearer(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer fallback-key")
	key, err := extractAuthKey(ir.IngressGemini, h)
	assert.NoError(t, err)
	assert.Equal(t, []byte("fallback-key"), key)
}

func TestExtractAuthKeyMissingReturnsAuthError(t *testing.T) {
	_, err := extractAuthKey(ir.IngressOpenAIChat, http.Header{})
	assert.Error(t, err)
}

func TestAllowedKeySetSingleKeyConstantTime(t *testing.T) {
	set := NewAllowedKeySet([]string{"only-key"})
	assert.True(t, set.Allowed([]byte("only-key")))
	assert.False(t, set.Allowed([]byte("wrong-key")))
	assert.False(t, set.Allowed([]byte("only-ke")))
}

func TestAllowedKeySetMultipleKeys(t *testing.T) {
	set := NewAllowedKeySet([]string{"key-a", "key-b", "key-c"})
	assert.True(t, set.Allowed([]byte("key-b")))
	assert.False(t, set.Allowed([]byte("key-d")))
}

package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/llmgateway/pkg/ir"
)

func TestBuildOpenAIStaticURL(t *testing.T) {
	p, err := Build(ServiceConfig{
		Name: "oa", Provider: ir.ProviderOpenAI, BaseURL: "https://api.openai.com/v1", APIKey: "sk-x",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", p.RequestURL("gpt-4o", false))
	assert.Equal(t, "Bearer sk-x", p.Headers["Authorization"])
}

func TestBuildAnthropicHeaders(t *testing.T) {
	p, err := Build(ServiceConfig{
		Name: "an", Provider: ir.ProviderAnthropic, BaseURL: "https://api.anthropic.com",
		APIKey: "key-x", APIVersion: "2023-06-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "key-x", p.Headers["x-api-key"])
	assert.Equal(t, "2023-06-01", p.Headers["anthropic-version"])
	assert.Equal(t, "https://api.anthropic.com/messages", p.RequestURL("claude-3-opus", false))
}

func TestBuildGeminiURLVariesByStreamAndModel(t *testing.T) {
	p, err := Build(ServiceConfig{
		Name: "g", Provider: ir.ProviderGemini, BaseURL: "https://generativelanguage.googleapis.com/v1beta", APIKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:generateContent",
		p.RequestURL("gemini-2.5-pro", false))
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:streamGenerateContent",
		p.RequestURL("gemini-2.5-pro", true))
}

func TestBuildRejectsNonHTTPScheme(t *testing.T) {
	_, err := Build(ServiceConfig{Name: "bad", Provider: ir.ProviderOpenAI, BaseURL: "ftp://example.com", APIKey: "k"})
	assert.Error(t, err)
}

func TestProxyForPrefersStreamShapeOverride(t *testing.T) {
	p, err := Build(ServiceConfig{
		Name: "oa", Provider: ir.ProviderOpenAI, BaseURL: "https://api.openai.com/v1", APIKey: "k",
		Proxy: ProxyConfig{Default: "http://default-proxy", Stream: "http://stream-proxy"},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://stream-proxy", p.ProxyFor(true))
	assert.Equal(t, "http://default-proxy", p.ProxyFor(false))
}

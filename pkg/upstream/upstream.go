// Package upstream implements the prepared-upstream layer (spec.md §3
// PreparedUpstream, C3): startup-precomputed request URLs, static
// headers, and proxy configuration per configured upstream service, so
// the request hot path never reconstructs a URL or header map.
//
// Grounded on the teacher's pkg/internal/http.Client/Config pattern
// (a Client built once with BaseURL/headers baked in, reused across
// calls) — generalized from one client per provider instance to one
// PreparedUpstream per configured service, since this gateway serves
// many upstream services of the same provider kind simultaneously.
package upstream

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/relaygate/llmgateway/pkg/ir"
)

// ProxyConfig is the optional proxy URL split by traffic shape, since
// spec.md allows a different (or absent) proxy for streaming vs
// non-streaming sends to the same upstream.
type ProxyConfig struct {
	Default    string
	Stream     string
	NonStream  string
}

// ServiceConfig is the as-configured shape of one `upstream_services[]`
// entry, before URL/header precomputation.
type ServiceConfig struct {
	Name        string
	Provider    ir.ProviderKind
	BaseURL     string
	APIKey      string
	Models      []string
	Description string
	IsDefault   bool
	FcMode      string // "inject" | "native" | "auto"
	APIVersion  string
	Proxy       ProxyConfig
}

// Prepared is the immutable-after-construction PreparedUpstream.
type Prepared struct {
	Name        string
	Provider    ir.ProviderKind
	BaseURL     *url.URL
	Headers     map[string]string
	Proxy       ProxyConfig
	APIVersion  string

	// staticURL is the single request URL for non-Gemini providers,
	// where the target never varies by model.
	staticURL string
}

// Build precomputes the URL and header map for one configured service.
// Gemini URLs are built per-request (they embed the model name), so
// Build only validates the base URL and leaves StaticURL empty for
// Gemini/GeminiOpenAI... except GeminiOpenAI, which is
// passthrough-compatible with OpenAI Chat and therefore uses the
// static OpenAI-shaped path.
func Build(cfg ServiceConfig) (*Prepared, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream %q: invalid base_url: %w", cfg.Name, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream %q: base_url scheme must be http or https", cfg.Name)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	switch cfg.Provider {
	case ir.ProviderAnthropic:
		headers["x-api-key"] = cfg.APIKey
		if cfg.APIVersion != "" {
			headers["anthropic-version"] = cfg.APIVersion
		}
	case ir.ProviderGemini:
		headers["x-goog-api-key"] = cfg.APIKey
	default:
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}

	p := &Prepared{
		Name:       cfg.Name,
		Provider:   cfg.Provider,
		BaseURL:    base,
		Headers:    headers,
		Proxy:      cfg.Proxy,
		APIVersion: cfg.APIVersion,
	}

	switch cfg.Provider {
	case ir.ProviderOpenAI, ir.ProviderGeminiOpenAI:
		p.staticURL = base.String() + "/chat/completions"
	case ir.ProviderOpenAIResponses:
		p.staticURL = base.String() + "/responses"
	case ir.ProviderAnthropic:
		p.staticURL = base.String() + "/messages"
	case ir.ProviderGemini:
		// resolved per-request via RequestURL, below.
	default:
		return nil, fmt.Errorf("upstream %q: unknown provider kind", cfg.Name)
	}

	return p, nil
}

// RequestURL returns the target URL for one request. Every provider
// except Gemini returns the precomputed static URL; Gemini embeds the
// model and streaming-vs-non-streaming action in the path.
func (p *Prepared) RequestURL(model string, stream bool) string {
	if p.Provider != ir.ProviderGemini {
		return p.staticURL
	}
	action := "generateContent"
	if stream {
		action = "streamGenerateContent"
	}
	return fmt.Sprintf("%s/models/%s:%s", p.BaseURL.String(), model, action)
}

// ProxyFor returns the proxy URL (possibly empty) to use for a send of
// the given streaming shape, preferring the shape-specific override
// over ProxyConfig.Default.
func (p *Prepared) ProxyFor(stream bool) string {
	if stream && p.Proxy.Stream != "" {
		return p.Proxy.Stream
	}
	if !stream && p.Proxy.NonStream != "" {
		return p.Proxy.NonStream
	}
	return p.Proxy.Default
}

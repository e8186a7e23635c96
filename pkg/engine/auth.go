package engine

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/relaygate/llmgateway/pkg/gwerrors"
	"github.com/relaygate/llmgateway/pkg/ir"
)

// extractAuthKey pulls the client API key per the ingress's
// authentication convention (spec.md §6/§4.7 phase 1): bearer for
// OpenAI-family ingresses, x-api-key for Anthropic, x-goog-api-key for
// Gemini falling back to bearer.
func extractAuthKey(ingress ir.IngressAPI, headers http.Header) ([]byte, error) {
	switch ingress {
	case ir.IngressAnthropic:
		if v := headers.Get("x-api-key"); v != "" {
			return []byte(v), nil
		}
	case ir.IngressGemini:
		if v := headers.Get("x-goog-api-key"); v != "" {
			return []byte(v), nil
		}
		if v := bearerToken(headers); v != "" {
			return []byte(v), nil
		}
	default: // OpenAI Chat, OpenAI Responses
		if v := bearerToken(headers); v != "" {
			return []byte(v), nil
		}
	}
	return nil, gwerrors.NewAuth("missing API key")
}

func bearerToken(headers http.Header) string {
	v := headers.Get("Authorization")
	const prefix = "Bearer "
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return v[len(prefix):]
	}
	return ""
}

// AllowedKeySet is the client_authentication.allowed_keys[] index.
// With exactly one configured key, Allowed uses a constant-time
// compare (spec.md §4.7 phase 1); with more than one, a hash-set
// lookup is used instead since constant-time compare against N keys
// would leak timing information about which key (if any) is close to
// a match, and N is expected to be small enough that map lookup is
// not itself a meaningfully observable side channel the way a
// variable-length linear scan would be.
type AllowedKeySet struct {
	single []byte
	set    map[string]bool
}

// NewAllowedKeySet builds the index from the configured key list.
func NewAllowedKeySet(keys []string) *AllowedKeySet {
	if len(keys) == 1 {
		return &AllowedKeySet{single: []byte(keys[0])}
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return &AllowedKeySet{set: set}
}

// Allowed reports whether key matches a configured key.
func (a *AllowedKeySet) Allowed(key []byte) bool {
	if a.single != nil {
		return len(key) == len(a.single) && subtle.ConstantTimeCompare(key, a.single) == 1
	}
	return a.set[string(key)]
}

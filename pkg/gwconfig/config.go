// Package gwconfig loads and validates the gateway's startup YAML
// configuration (spec.md §6 "Configuration surface").
//
// Grounded on vanducng-goclaw/internal/config/config_load.go's
// Load/Default/applyEnvOverrides shape — defaults-then-overlay and a
// dedicated Load entry point; no environment overrides are applied
// here, only the YAML file — with the source format swapped from that repo's JSON5 to the YAML spec.md
// names, and json5's hand-rolled validation generalized into the
// fatal-at-load-time Validate pass spec.md §6 requires.
package gwconfig

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaygate/llmgateway/pkg/gwerrors"
	"github.com/relaygate/llmgateway/pkg/ir"
)

// Server holds the `server.*` YAML block.
type Server struct {
	Port                      int    `yaml:"port"`
	Host                      string `yaml:"host"`
	TimeoutSecs               int    `yaml:"timeout"`
	HTTPPoolSize              int    `yaml:"http_pool_size"`
	HTTPPoolIdleTimeoutSecs   int    `yaml:"http_pool_idle_timeout_secs"`
	ModelsCacheTTLSecs        int    `yaml:"models_cache_ttl_secs"`
	RuntimeGOMAXPROCS         int    `yaml:"runtime_gomaxprocs"`
	BasePath                  string `yaml:"base_path"`
	TrustForwardedHeaders     bool   `yaml:"trust_forwarded_headers"`
	HTTPUseEnvProxy           bool   `yaml:"http_use_env_proxy"`
	HTTPForceH2CUpstream      bool   `yaml:"http_force_h2c_upstream"`
	TCPReusePortListenerCount int    `yaml:"tcp_reuse_port_listener_count"`
}

// UpstreamService holds one `upstream_services[]` entry.
type UpstreamService struct {
	Name            string   `yaml:"name"`
	Provider        string   `yaml:"provider"`
	BaseURL         string   `yaml:"base_url"`
	APIKey          string   `yaml:"api_key"`
	Models          []string `yaml:"models"`
	Description     string   `yaml:"description"`
	IsDefault       bool     `yaml:"is_default"`
	FCMode          string   `yaml:"fc_mode"`
	APIVersion      string   `yaml:"api_version,omitempty"`
	Proxy           string   `yaml:"proxy,omitempty"`
	ProxyStream     string   `yaml:"proxy_stream,omitempty"`
	ProxyNonStream  string   `yaml:"proxy_non_stream,omitempty"`
}

// ProviderKind parses Provider into the canonical ir.ProviderKind.
func (u UpstreamService) ProviderKind() (ir.ProviderKind, bool) {
	switch u.Provider {
	case "openai":
		return ir.ProviderOpenAI, true
	case "openai-responses":
		return ir.ProviderOpenAIResponses, true
	case "anthropic":
		return ir.ProviderAnthropic, true
	case "gemini":
		return ir.ProviderGemini, true
	case "gemini-openai":
		return ir.ProviderGeminiOpenAI, true
	default:
		return "", false
	}
}

// ClientAuthentication holds the `client_authentication` YAML block.
type ClientAuthentication struct {
	AllowedKeys []string `yaml:"allowed_keys"`
}

// Features holds the `features.*` YAML block.
type Features struct {
	EnableFunctionCalling      bool   `yaml:"enable_function_calling"`
	LogLevel                   string `yaml:"log_level"`
	ConvertDeveloperToSystem   bool   `yaml:"convert_developer_to_system"`
	EnableFCErrorRetry         bool   `yaml:"enable_fc_error_retry"`
	FCErrorRetryMaxAttempts    int    `yaml:"fc_error_retry_max_attempts"`
	PromptTemplate             string `yaml:"prompt_template,omitempty"`
	FCErrorRetryPromptTemplate string `yaml:"fc_error_retry_prompt_template,omitempty"`
}

// Config is the full parsed and validated startup configuration.
type Config struct {
	Server               Server                `yaml:"server"`
	UpstreamServices     []UpstreamService     `yaml:"upstream_services"`
	ClientAuthentication ClientAuthentication  `yaml:"client_authentication"`
	Features             Features              `yaml:"features"`
}

// Default returns a Config with the gateway's startup defaults, to be
// overlaid by the YAML file's explicit values.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:               8080,
			Host:               "0.0.0.0",
			TimeoutSecs:        30,
			HTTPPoolSize:       64,
			ModelsCacheTTLSecs: 300,
			RuntimeGOMAXPROCS:  0, // 0 means "leave GOMAXPROCS at the Go runtime default"
		},
		Features: Features{
			FCErrorRetryMaxAttempts: 1,
			LogLevel:                "info",
		},
	}
}

// Load reads and parses the YAML config file at path, then validates
// it. Any validation failure is returned as a *gwerrors.Error with
// Category Config (spec.md §6: "fatal at load time").
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gwerrors.NewConfig("read config file", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, gwerrors.NewConfig("parse config yaml", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs the fatal-at-load-time checks spec.md §6 names: empty
// keys, unknown provider, bad URL scheme, missing template
// placeholders, zero-valued pool sizes, duplicate within-service
// models.
func (c *Config) Validate() error {
	if c.Server.HTTPPoolSize <= 0 {
		return gwerrors.NewConfig("server.http_pool_size must be > 0", nil)
	}
	if c.Server.Port <= 0 {
		return gwerrors.NewConfig("server.port must be > 0", nil)
	}

	if len(c.ClientAuthentication.AllowedKeys) == 0 {
		return gwerrors.NewConfig("client_authentication.allowed_keys must not be empty", nil)
	}
	for _, k := range c.ClientAuthentication.AllowedKeys {
		if strings.TrimSpace(k) == "" {
			return gwerrors.NewConfig("client_authentication.allowed_keys contains an empty key", nil)
		}
	}

	if len(c.UpstreamServices) == 0 {
		return gwerrors.NewConfig("upstream_services must not be empty", nil)
	}

	seenAlias := map[string]string{}  // alias -> owning service name
	seenPlain := map[string]string{}  // plain real_model -> owning service name
	for _, svc := range c.UpstreamServices {
		if strings.TrimSpace(svc.Name) == "" {
			return gwerrors.NewConfig("upstream_services[] entry has an empty name", nil)
		}
		if _, ok := svc.ProviderKind(); !ok {
			return gwerrors.NewConfig(fmt.Sprintf("upstream service %q: unknown provider %q", svc.Name, svc.Provider), nil)
		}
		if err := validateURLScheme(svc.BaseURL); err != nil {
			return gwerrors.NewConfig(fmt.Sprintf("upstream service %q: base_url: %v", svc.Name, err), nil)
		}
		if strings.TrimSpace(svc.APIKey) == "" {
			return gwerrors.NewConfig(fmt.Sprintf("upstream service %q: api_key must not be empty", svc.Name), nil)
		}
		if len(svc.Models) == 0 {
			return gwerrors.NewConfig(fmt.Sprintf("upstream service %q: models must not be empty", svc.Name), nil)
		}

		withinService := map[string]bool{}
		for _, entry := range svc.Models {
			alias, real, hasAlias := splitModelEntry(entry)
			if real == "" || (hasAlias && alias == "") {
				return gwerrors.NewConfig(fmt.Sprintf("upstream service %q: models[] entry %q has an empty part", svc.Name, entry), nil)
			}
			if withinService[entry] {
				return gwerrors.NewConfig(fmt.Sprintf("upstream service %q: duplicate model entry %q", svc.Name, entry), nil)
			}
			withinService[entry] = true

			if hasAlias {
				if owner, ok := seenPlain[alias]; ok {
					return gwerrors.NewConfig(fmt.Sprintf("alias %q in service %q collides with plain model name in service %q", alias, svc.Name, owner), nil)
				}
				seenAlias[alias] = svc.Name
			} else {
				if owner, ok := seenAlias[real]; ok {
					return gwerrors.NewConfig(fmt.Sprintf("plain model %q in service %q collides with alias in service %q", real, svc.Name, owner), nil)
				}
				seenPlain[real] = svc.Name
			}
		}

		if svc.FCMode != "" && svc.FCMode != "native" && svc.FCMode != "inject" && svc.FCMode != "auto" {
			return gwerrors.NewConfig(fmt.Sprintf("upstream service %q: unknown fc_mode %q", svc.Name, svc.FCMode), nil)
		}
	}

	if err := validateTemplate(c.Features.PromptTemplate, "{{tools}}"); err != nil {
		return gwerrors.NewConfig("features.prompt_template: "+err.Error(), nil)
	}
	if err := validateTemplate(c.Features.FCErrorRetryPromptTemplate, "{{error}}"); err != nil {
		return gwerrors.NewConfig("features.fc_error_retry_prompt_template: "+err.Error(), nil)
	}
	if c.Features.EnableFCErrorRetry && c.Features.FCErrorRetryMaxAttempts <= 0 {
		return gwerrors.NewConfig("features.fc_error_retry_max_attempts must be > 0 when enable_fc_error_retry is set", nil)
	}

	return nil
}

func splitModelEntry(entry string) (alias, real string, hasAlias bool) {
	idx := strings.IndexByte(entry, ':')
	if idx < 0 {
		return "", entry, false
	}
	return entry[:idx], entry[idx+1:], true
}

func validateURLScheme(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// validateTemplate requires an explicitly-set template to contain the
// named placeholder. An empty template is valid (the gateway falls
// back to its built-in default).
func validateTemplate(tmpl, placeholder string) error {
	if tmpl == "" {
		return nil
	}
	if !strings.Contains(tmpl, placeholder) {
		return fmt.Errorf("missing required placeholder %q", placeholder)
	}
	return nil
}

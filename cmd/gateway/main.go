// Command gateway boots the multi-tenant LLM API gateway: loads the
// YAML config, builds every C1-C9 singleton into one engine.AppState,
// and serves the HTTP surface of spec.md §6.
//
// Grounded on digitallysavvy-go-ai/examples/chi-server/main.go's
// single-file bootstrap shape (env/flag in, one router out,
// log.Fatal(http.ListenAndServe(...))), generalized from "one static
// provider" into "N configured upstream services wired through
// gwconfig".
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaygate/llmgateway/pkg/breaker"
	"github.com/relaygate/llmgateway/pkg/dialect"
	"github.com/relaygate/llmgateway/pkg/dialect/anthropic"
	"github.com/relaygate/llmgateway/pkg/dialect/gemini"
	"github.com/relaygate/llmgateway/pkg/dialect/openaichat"
	"github.com/relaygate/llmgateway/pkg/dialect/openairesponses"
	"github.com/relaygate/llmgateway/pkg/engine"
	"github.com/relaygate/llmgateway/pkg/fcpolicy"
	"github.com/relaygate/llmgateway/pkg/gwconfig"
	"github.com/relaygate/llmgateway/pkg/ir"
	"github.com/relaygate/llmgateway/pkg/reqid"
	"github.com/relaygate/llmgateway/pkg/router"
	"github.com/relaygate/llmgateway/pkg/routing"
	"github.com/relaygate/llmgateway/pkg/server"
	"github.com/relaygate/llmgateway/pkg/telemetry"
	"github.com/relaygate/llmgateway/pkg/transport"
	"github.com/relaygate/llmgateway/pkg/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway's YAML config file")
	flag.Parse()

	cfg, err := gwconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("gateway: config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Features.LogLevel)
	if err != nil {
		log.Fatalf("gateway: logger: %v", err)
	}
	defer logger.Sync()

	state, ingressCodecs, err := buildAppState(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build gateway state", zap.Error(err))
	}

	eng := engine.New(state)
	srv := server.New(eng, ingressCodecs, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("gateway listening", zap.String("addr", addr), zap.String("base_path", cfg.Server.BasePath))

	log.Fatal(http.ListenAndServe(addr, srv.Routes()))
}

// buildAppState wires the C1-C9 singletons of spec.md §3 into one
// engine.AppState from the loaded config: per-upstream Prepared
// clients (C3), the model router (C4), the breaker registry (C5), the
// FC policy cache (C6), the routing/candidate-ordering policy (C7),
// the shared transport client (C9), and both codec maps C8 needs
// (ingress-keyed for decoding client requests, provider-keyed for
// encoding the re-translated upstream request).
func buildAppState(cfg *gwconfig.Config, logger *zap.Logger) (*engine.AppState, map[ir.IngressAPI]dialect.Codec, error) {
	n := len(cfg.UpstreamServices)
	prepared := make([]*upstream.Prepared, 0, n)
	providerKinds := make([]ir.ProviderKind, 0, n)
	routerModels := make([]router.UpstreamModels, 0, n)
	fcModes := make([]fcpolicy.Mode, 0, n)

	for i, svc := range cfg.UpstreamServices {
		providerKind, ok := svc.ProviderKind()
		if !ok {
			return nil, nil, fmt.Errorf("upstream %q: unknown provider %q", svc.Name, svc.Provider)
		}

		p, err := upstream.Build(upstream.ServiceConfig{
			Name:        svc.Name,
			Provider:    providerKind,
			BaseURL:     svc.BaseURL,
			APIKey:      svc.APIKey,
			Models:      svc.Models,
			Description: svc.Description,
			IsDefault:   svc.IsDefault,
			FcMode:      svc.FCMode,
			APIVersion:  svc.APIVersion,
			Proxy: upstream.ProxyConfig{
				Default:   svc.Proxy,
				Stream:    svc.ProxyStream,
				NonStream: svc.ProxyNonStream,
			},
		})
		if err != nil {
			return nil, nil, err
		}

		prepared = append(prepared, p)
		providerKinds = append(providerKinds, providerKind)
		routerModels = append(routerModels, router.UpstreamModels{UpstreamIndex: i, Entries: svc.Models})
		fcModes = append(fcModes, fcModeFromConfig(svc.FCMode))
	}

	rtr, err := router.Build(routerModels)
	if err != nil {
		return nil, nil, err
	}

	breakers := breaker.New(n)
	fcPolicy := fcpolicy.New(fcModes, cfg.Features.EnableFunctionCalling)
	routingPolicy := routing.New(rtr, breakers, providerKinds)
	transportClient := transport.NewClient(cfg.Server.HTTPUseEnvProxy, cfg.Server.HTTPForceH2CUpstream)

	openAIChatCodec := openaichat.New()
	ingressCodecs := map[ir.IngressAPI]dialect.Codec{
		ir.IngressOpenAIChat:      openAIChatCodec,
		ir.IngressOpenAIResponses: openairesponses.New(),
		ir.IngressAnthropic:       anthropic.New(),
		ir.IngressGemini:          gemini.New(),
	}
	providerCodecs := map[ir.ProviderKind]dialect.Codec{
		ir.ProviderOpenAI:          openAIChatCodec,
		ir.ProviderGeminiOpenAI:    openAIChatCodec,
		ir.ProviderOpenAIResponses: ingressCodecs[ir.IngressOpenAIResponses],
		ir.ProviderAnthropic:       ingressCodecs[ir.IngressAnthropic],
		ir.ProviderGemini:          ingressCodecs[ir.IngressGemini],
	}

	state := &engine.AppState{
		Upstreams:          prepared,
		UpstreamProvider:   providerKinds,
		Router:             rtr,
		Breakers:           breakers,
		FcPolicy:           fcPolicy,
		Routing:            routingPolicy,
		Transport:          transportClient,
		Codecs:             ingressCodecs,
		ProviderCodecs:     providerCodecs,
		ReqIDs:             reqid.NewGenerator(),
		AllowedKeys:        engine.NewAllowedKeySet(cfg.ClientAuthentication.AllowedKeys),
		EnableFCErrorRetry: cfg.Features.EnableFCErrorRetry,
		SendTimeout:        time.Duration(cfg.Server.TimeoutSecs) * time.Second,
		Logger:             logger,
		// OpenTelemetry export is left disabled by default; see
		// DESIGN.md's unbound-OTLP-exporter note. GetTracer still
		// returns a usable no-op tracer, so every span call is safe.
		Tracer: &telemetry.Settings{IsEnabled: false},
	}
	return state, ingressCodecs, nil
}

// fcModeFromConfig maps the YAML fc_mode string to fcpolicy.Mode. An
// empty string (not set) defaults to Native, matching fcpolicy.Mode's
// zero value.
func fcModeFromConfig(mode string) fcpolicy.Mode {
	switch mode {
	case "inject":
		return fcpolicy.Inject
	case "auto":
		return fcpolicy.Auto
	default:
		return fcpolicy.Native
	}
}

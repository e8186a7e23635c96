// Package server implements the HTTP surface of spec.md §6: chi-based
// routing for the four ingress dialects plus the health and model-list
// endpoints, request-body size enforcement, and the metrics endpoint.
//
// Grounded on digitallysavvy-go-ai/examples/chi-server/main.go's
// router composition (chi.NewRouter + middleware.Recoverer/Logger +
// go-chi/cors, a plain http.ListenAndServe) and on
// DatanoiseTV-aigateway's internal/handlers package (one handler type
// per dialect family, RegisterRoutes(r chi.Router) grouping).
package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relaygate/llmgateway/pkg/dialect"
	"github.com/relaygate/llmgateway/pkg/engine"
	"github.com/relaygate/llmgateway/pkg/gwconfig"
	"github.com/relaygate/llmgateway/pkg/ir"
)

// maxBodyBytes is the 2 MiB request body cap of spec.md §6.
const maxBodyBytes = 2 * 1024 * 1024

// Server wires one engine.Engine to the HTTP surface spec.md §6 names.
type Server struct {
	eng    *engine.Engine
	codecs map[ir.IngressAPI]dialect.Codec
	cfg    *gwconfig.Config
	models *modelsCache
	logger *zap.Logger
}

// New builds a Server. codecs must contain an entry for every
// ir.IngressAPI the gateway accepts — the same map passed into the
// engine's AppState.Codecs.
func New(eng *engine.Engine, codecs map[ir.IngressAPI]dialect.Codec, cfg *gwconfig.Config, logger *zap.Logger) *Server {
	return &Server{
		eng:    eng,
		codecs: codecs,
		cfg:    cfg,
		models: newModelsCache(cfg.UpstreamServices, cfg.Server.ModelsCacheTTLSecs, nil),
		logger: logger,
	}
}

// Routes builds the chi.Router for the gateway, with every path
// prefixed by the configured base_path.
func (s *Server) Routes() http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Recoverer)
	root.Use(middleware.RealIP)
	if s.logger != nil {
		root.Use(s.requestLogger)
	}
	root.Use(middleware.Timeout(s.timeout()))
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "x-api-key", "x-goog-api-key"},
	}))

	base := s.cfg.Server.BasePath
	if base == "" {
		base = "/"
	}
	root.Route(base, func(r chi.Router) {
		r.Get("/", s.handleHealth)
		r.Get("/v1/models", s.handleModels)
		r.Post("/v1/chat/completions", s.handleIngress(ir.IngressOpenAIChat))
		r.Post("/v1/responses", s.handleIngress(ir.IngressOpenAIResponses))
		r.Post("/v1/messages", s.handleIngress(ir.IngressAnthropic))
		r.Post("/v1beta/models/{modelAction}", s.handleGemini)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	})

	root.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	root.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	return root
}

func (s *Server) timeout() time.Duration {
	if s.cfg.Server.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.cfg.Server.TimeoutSecs) * time.Second
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// handleHealth returns the health+redacted-config summary of spec.md
// §6 "GET / | Health (returns status + redacted config summary)".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	upstreams := make([]string, 0, len(s.cfg.UpstreamServices))
	for _, u := range s.cfg.UpstreamServices {
		upstreams = append(upstreams, u.Name+" ("+u.Provider+")")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"upstreams": upstreams,
		"base_path": s.cfg.Server.BasePath,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.models.render())
}

// handleIngress returns an http.HandlerFunc that reads the bounded
// request body and hands it to the engine under the given ingress
// dialect. Used for the three ingress endpoints whose model name
// already lives inside the request body.
func (s *Server) handleIngress(ingress ir.IngressAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r, ingress)
		if !ok {
			return
		}
		s.serve(w, r, ingress, body)
	}
}

// handleGemini implements the `/v1beta/models/{model}:{action}` route
// of spec.md §6, splitting the chi wildcard segment on its last ':'
// into the model name and the action (generateContent or
// streamGenerateContent), then stitching the model name into the body
// as a "model" field so the probe and router see it the same way they
// see every other ingress dialect's inline model field.
func (s *Server) handleGemini(w http.ResponseWriter, r *http.Request) {
	modelAction := chi.URLParam(r, "modelAction")
	idx := strings.LastIndexByte(modelAction, ':')
	if idx < 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	model, action := modelAction[:idx], modelAction[idx+1:]
	var stream bool
	switch action {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body, ok := s.readBody(w, r, ir.IngressGemini)
	if !ok {
		return
	}
	body = injectGeminiModel(body, model, stream)
	s.serve(w, r, ir.IngressGemini, body)
}

// injectGeminiModel splices `"model":"<name>","stream":<bool>,` into
// the top level of the request object so the rest of the pipeline
// (probe, router) can read the model/stream fields the URL carried out
// of band, exactly as every other ingress dialect carries them inline.
// The Gemini wire codec itself ignores both extra fields.
func injectGeminiModel(body []byte, model string, stream bool) []byte {
	quoted, _ := json.Marshal(model)
	brace := bytes.IndexByte(body, '{')
	if brace < 0 {
		return body
	}
	rest := body[brace+1:]
	// An empty object's remainder is just the closing '}' (plus
	// whitespace); appending a trailing comma before it would produce
	// invalid JSON that encoding/json-based codecs reject.
	trimmedRest := bytes.TrimLeft(rest, " \t\r\n")
	hasMoreFields := len(trimmedRest) > 0 && trimmedRest[0] != '}'

	prefix := append([]byte(`{"model":`), quoted...)
	prefix = append(prefix, []byte(`,"stream":`)...)
	if stream {
		prefix = append(prefix, []byte(`true`)...)
	} else {
		prefix = append(prefix, []byte(`false`)...)
	}
	if hasMoreFields {
		prefix = append(prefix, ',')
	}
	out := make([]byte, 0, len(prefix)+len(rest))
	out = append(out, prefix...)
	out = append(out, rest...)
	return out
}

// readBody enforces the 2 MiB cap of spec.md §6, writing a dialect-
// encoded 413 on overflow.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, ingress ir.IngressAPI) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) > maxBodyBytes {
		s.writeTooLarge(w, ingress)
		return nil, false
	}
	return body, true
}

func (s *Server) writeTooLarge(w http.ResponseWriter, ingress ir.IngressAPI) {
	codec := s.codecs[ingress]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	if codec != nil {
		w.Write(codec.EncodeError(http.StatusRequestEntityTooLarge, "invalid_request", "request body exceeds 2 MiB limit"))
		return
	}
	w.Write([]byte(`{"error":"request body exceeds 2 MiB limit"}`))
}

// serve runs the engine for one request, streaming through an
// httpSink when the probe determines this is a streaming request, or
// writing the single completed NonStreamResult otherwise.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, ingress ir.IngressAPI, body []byte) {
	sink := newHTTPSink(w)
	result, err := s.eng.Serve(r.Context(), ingress, body, r.Header, sink)
	if err != nil {
		// Serve only returns a non-nil error when no codec is registered
		// for the ingress; nothing is written in that case.
		return
	}
	if result == nil {
		// Streaming request: the sink already wrote status and frames
		// (including a stream that failed after its first byte, which
		// simply stops, spec §4.7).
		return
	}
	for k, vs := range result.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

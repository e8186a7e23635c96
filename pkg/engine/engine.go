// Package engine implements the orchestration engine (spec.md §4.7,
// C8): the per-request state machine that authenticates, probes,
// routes, and sends a request to an upstream, failing over across
// candidates and between raw-passthrough/transcode/inject channels as
// needed.
//
// Grounded on the teacher's pkg/registry.go + pkg/agent/toolloop.go
// composition style (a single entry point that chains provider
// resolution, then a tool-call loop with per-attempt retry) — this
// engine generalizes that per-provider tool loop into a per-candidate
// failover loop across many configured upstreams, wired to C2–C7/C9.
package engine

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/relaygate/llmgateway/pkg/breaker"
	"github.com/relaygate/llmgateway/pkg/dialect"
	"github.com/relaygate/llmgateway/pkg/fcpolicy"
	"github.com/relaygate/llmgateway/pkg/gwerrors"
	"github.com/relaygate/llmgateway/pkg/ir"
	"github.com/relaygate/llmgateway/pkg/probe"
	"github.com/relaygate/llmgateway/pkg/reqid"
	"github.com/relaygate/llmgateway/pkg/router"
	"github.com/relaygate/llmgateway/pkg/routing"
	"github.com/relaygate/llmgateway/pkg/telemetry"
	"github.com/relaygate/llmgateway/pkg/transport"
	"github.com/relaygate/llmgateway/pkg/upstream"
)

// AppState is the process-wide singleton set every request borrows for
// its lifetime (spec.md §3 "Ownership & lifecycles": "AppState owns
// all singletons for the process").
type AppState struct {
	Upstreams        []*upstream.Prepared
	UpstreamProvider []ir.ProviderKind // parallel to Upstreams, cached for routing.New
	Router           *router.Router
	Breakers         *breaker.Registry
	FcPolicy         *fcpolicy.Policy
	Routing          *routing.Policy
	Transport        *transport.Client
	Codecs           map[ir.IngressAPI]dialect.Codec
	ProviderCodecs   map[ir.ProviderKind]dialect.Codec
	ReqIDs           *reqid.Generator
	AllowedKeys      *AllowedKeySet
	EnableFCErrorRetry bool
	SendTimeout      time.Duration
	Now              func() time.Time

	Logger *zap.Logger
	Tracer *telemetry.Settings
}

// Engine runs the phases of spec.md §4.7 against one AppState.
type Engine struct {
	state *AppState
}

func New(state *AppState) *Engine {
	if state.Now == nil {
		state.Now = time.Now
	}
	return &Engine{state: state}
}

// NonStreamResult is a completed non-streaming outcome, already
// encoded in the ingress dialect and ready to write verbatim.
type NonStreamResult struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// FrameSink receives dialect-encoded SSE frame text for a streaming
// response. The server package adapts this to an http.ResponseWriter
// with a Flusher; tests can adapt it to a plain buffer.
type FrameSink interface {
	// WriteStatus is called exactly once, before the first frame, with
	// the HTTP status the ingress response should carry.
	WriteStatus(status int)
	WriteFrame(frame string) error
}

// Serve runs the full engine state machine for one request and is the
// single entry point callers (pkg/server) use; it dispatches internally
// to the non-streaming or streaming path once the probe has determined
// which this request is. It returns a completed non-streaming result
// (an encoded error response included), or nil once a streaming
// request has written its frames to sink. The error is non-nil only
// when no codec is registered for ingress.
func (e *Engine) Serve(ctx context.Context, ingress ir.IngressAPI, body []byte, headers http.Header, sink FrameSink) (*NonStreamResult, error) {
	start := e.state.Now()
	codec, ok := e.state.Codecs[ingress]
	if !ok {
		return nil, gwerrors.NewInternal("no codec registered for ingress "+string(ingress), nil)
	}

	authKey, err := extractAuthKey(ingress, headers)
	if err != nil {
		e.recordRequestOutcome(ingress, "auth_failed", start)
		return e.errorResult(codec, err), nil
	}
	if !e.state.AllowedKeys.Allowed(authKey) {
		e.recordRequestOutcome(ingress, "auth_failed", start)
		return e.errorResult(codec, gwerrors.NewAuth("invalid API key")), nil
	}

	result, err := probe.ParseProbe(body)
	if err != nil {
		e.recordRequestOutcome(ingress, "invalid_request", start)
		return e.errorResult(codec, gwerrors.NewInvalidRequest("malformed request body", err)), nil
	}

	req := &requestCtx{
		ctx:      ctx,
		ingress:  ingress,
		codec:    codec,
		rawBody:  body,
		probe:    result,
		authKey:  authKey,
		stream:   result.HasStream && result.Stream,
		headers:  headers,
	}
	seq, id := e.state.ReqIDs.Next()
	req.requestID = id
	req.requestSeq = seq

	tracer := telemetry.GetTracer(e.state.Tracer)
	spanCtx, span := tracer.Start(req.ctx, "engine.dispatch", trace.WithAttributes(
		telemetry.RequestAttributes(string(ingress), result.Model, seq)...,
	))
	req.ctx = spanCtx

	outcome, err := e.dispatch(req, sink)
	if err != nil {
		telemetry.RecordErrorOnSpan(span, err)
	}
	span.End()

	if e.state.Logger != nil {
		fields := telemetry.RequestFields(reqid.String(id), string(ingress), result.Model)
		if err != nil {
			e.state.Logger.Error("request failed", append(fields, zap.Error(err))...)
		} else {
			e.state.Logger.Info("request completed", fields...)
		}
	}

	if err != nil {
		e.recordRequestOutcome(ingress, outcomeLabel(err), start)
		res := e.errorResult(codec, err)
		if req.stream && req.firstByteSent {
			// Spec §4.7: never forge a terminal frame after the first
			// byte has already gone out; just stop.
			return nil, nil
		}
		return res, nil
	}
	e.recordRequestOutcome(ingress, "ok", start)
	return outcome, nil
}

func (e *Engine) recordRequestOutcome(ingress ir.IngressAPI, outcome string, start time.Time) {
	telemetry.RequestsTotal.WithLabelValues(string(ingress), outcome).Inc()
	telemetry.RequestDurationSeconds.WithLabelValues(string(ingress)).Observe(e.state.Now().Sub(start).Seconds())
}

func outcomeLabel(err error) string {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		return "internal"
	}
	return string(gwErr.Category)
}

func (e *Engine) errorResult(codec dialect.Codec, err error) *NonStreamResult {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		gwErr = gwerrors.NewInternal(err.Error(), err)
	}
	errType := string(gwErr.Category)
	body := codec.EncodeError(gwErr.HTTPStatus(), errType, gwErr.Message)
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &NonStreamResult{Status: gwErr.HTTPStatus(), Headers: h, Body: body}
}

// requestCtx carries everything threaded through the phases of one
// request's handling; it is not safe for concurrent use (one request
// = one goroutine, per spec §5).
type requestCtx struct {
	ctx     context.Context
	ingress ir.IngressAPI
	codec   dialect.Codec
	rawBody []byte
	probe   *probe.Result
	authKey []byte
	headers http.Header
	stream  bool

	requestID     [16]byte
	requestSeq    uint64
	firstByteSent bool
}

func (e *Engine) dispatch(req *requestCtx, sink FrameSink) (*NonStreamResult, error) {
	model := req.probe.Model

	if route, ok, err := e.state.Router.ResolveIfSingleCandidate(model); err != nil {
		return nil, translateRouterErr(err)
	} else if ok {
		return e.handleSingleCandidate(req, route, sink)
	}

	return e.handleMultiCandidate(req, model, sink)
}

func translateRouterErr(err error) error {
	if err == router.ErrUnknownModel {
		return gwerrors.NewInvalidRequest("unknown model", err)
	}
	return gwerrors.NewInternal("router failure", err)
}

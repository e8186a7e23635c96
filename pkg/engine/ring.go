package engine

import (
	"bufio"

	"github.com/relaygate/llmgateway/pkg/breaker"
	"github.com/relaygate/llmgateway/pkg/dialect"
	"github.com/relaygate/llmgateway/pkg/fcinject"
	"github.com/relaygate/llmgateway/pkg/fcpolicy"
	"github.com/relaygate/llmgateway/pkg/gwerrors"
	"github.com/relaygate/llmgateway/pkg/ir"
	"github.com/relaygate/llmgateway/pkg/router"
	"github.com/relaygate/llmgateway/pkg/routing"
	"github.com/relaygate/llmgateway/pkg/telemetry"
	"github.com/relaygate/llmgateway/pkg/transport"
	"github.com/relaygate/llmgateway/pkg/upstream"
)

// ringEntry is routing.Candidate under a local name, since the engine
// package consumes it purely as "a route plus its already-computed
// breaker decision" without caring that routing.Policy produced it.
type ringEntry = routing.Candidate

// handleMultiCandidate implements spec.md §4.7 phase 4: classify the
// session, compute the sticky hash only when the router says ordering
// actually needs one, resolve the four-way partitioned candidate
// order, and walk it.
func (e *Engine) handleMultiCandidate(req *requestCtx, model string, sink FrameSink) (*NonStreamResult, error) {
	var hash uint64
	if e.state.Router.RequiresRequestHashForOrdering(model) {
		prefix := routing.PromptPrefix(req.rawBody, req.probe.MsgRange)
		hash = routing.StickyHash(req.authKey, model, prefix, e.state.Now)
	}
	class := routing.ClassifySession(req.rawBody)

	candidates, err := e.state.Routing.Resolve(model, hash, class)
	if err != nil {
		return nil, translateRouterErr(err)
	}
	return e.runCandidateRing(req, candidates, sink)
}

// runCandidateRing walks candidates in order, implementing spec.md
// §4.7 phases 5-11: Channel-B passthrough with auto-fallback-to-inject
// on the same candidate, then canonical transcode (native or inject
// mode) with failover to the next candidate on a retriable error.
func (e *Engine) runCandidateRing(req *requestCtx, candidates []ringEntry, sink FrameSink) (*NonStreamResult, error) {
	var lastErr error
	for _, cand := range candidates {
		if cand.Decision == breaker.Deny {
			continue
		}
		// Peek (used to build candidates) never claims the half-open
		// probe slot; claim it for real only now, for the one candidate
		// about to be attempted. If another request raced in and already
		// holds the slot (or the window re-opened since Peek), skip to
		// the next candidate instead of attempting here.
		if e.state.Breakers.Check(cand.Route.UpstreamIndex, cand.Route.Model) == breaker.Deny {
			continue
		}
		up := e.state.Upstreams[cand.Route.UpstreamIndex]
		fc := e.state.FcPolicy.Decide(cand.Route.UpstreamIndex, cand.Route.Model, req.probe.HasTools)

		res, err := e.attemptCandidate(req, cand.Route, up, fc, sink)
		recordOutcome(e.state.Breakers, up.Name, cand.Route.UpstreamIndex, cand.Route.Model, err)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if req.stream && req.firstByteSent {
			// Committed mid-stream; spec §4.7 forbids failing over once
			// bytes have reached the client.
			return nil, err
		}
		if !failoverEligible(err) {
			return nil, err
		}
	}
	if lastErr == nil {
		return nil, gwerrors.NewUpstream(503, "no available upstream candidates")
	}
	return nil, lastErr
}

// attemptCandidate runs one candidate through whichever channel
// applies: raw passthrough when tool calling isn't in play, otherwise
// the canonical transcode path (native first, falling back to inject
// on a same-candidate "tools unsupported" signature).
func (e *Engine) attemptCandidate(req *requestCtx, route router.Route, up *upstream.Prepared, fc fcpolicy.Decision, sink FrameSink) (*NonStreamResult, error) {
	if !req.probe.HasTools && !fc.FcActive && ir.PassthroughCompatible(req.ingress, up.Provider) {
		if req.stream {
			return nil, e.attemptPassthroughStream(req, up, route.Model, sink)
		}
		return e.attemptPassthroughNonStream(req, up, route.Model)
	}

	injectMode := fc.FcActive
	res, err := e.attemptCanonical(req, route, up, injectMode, sink)
	if err == nil {
		return res, nil
	}

	gwErr, ok := gwerrors.As(err)
	if ok && !injectMode && fc.AutoFallbackAllowed && isNativeToolsUnsupportedSignature(gwErr.HTTPStatus(), gwErr.Message) {
		e.state.FcPolicy.MarkAutoInject(route.UpstreamIndex, route.Model)
		telemetry.FcAutoFallbackTotal.WithLabelValues(up.Name, route.Model).Inc()
		return e.attemptCanonical(req, route, up, true, sink)
	}
	return nil, err
}

// attemptCanonical decodes the request in the ingress dialect, re-
// encodes it in the target upstream's wire dialect (injecting the
// synthesized tool-call prompt and dropping native tools when
// injectMode is set), sends it, and decodes+re-encodes the response
// back into the ingress dialect. This is the canonical transcode path
// of spec.md §4.7 phases 8-11.
func (e *Engine) attemptCanonical(req *requestCtx, route router.Route, up *upstream.Prepared, injectMode bool, sink FrameSink) (*NonStreamResult, error) {
	canonical, err := req.codec.DecodeRequest(req.rawBody)
	if err != nil {
		return nil, gwerrors.NewTranslation("failed to decode request", err)
	}
	canonical.Model = route.Model

	knownTools := canonical.Tools
	if injectMode {
		prompt := dialect.SynthesizedSystemPrompt(canonical.Tools)
		if canonical.SystemPrompt != "" {
			canonical.SystemPrompt = canonical.SystemPrompt + "\n\n" + prompt
		} else {
			canonical.SystemPrompt = prompt
		}
		canonical.Tools = nil
		canonical.ToolChoice = ir.ToolChoice{}
	}

	targetCodec, ok := e.state.ProviderCodecs[up.Provider]
	if !ok {
		return nil, gwerrors.NewInternal("no codec registered for provider "+string(up.Provider), nil)
	}
	wireBody, err := targetCodec.EncodeRequest(canonical)
	if err != nil {
		return nil, gwerrors.NewTranslation("failed to encode request for upstream", err)
	}

	if req.stream {
		return nil, e.attemptCanonicalStream(req, up, route.Model, wireBody, targetCodec, injectMode, knownTools, sink)
	}
	return e.attemptCanonicalNonStream(req, up, route.Model, wireBody, targetCodec, injectMode, knownTools)
}

func (e *Engine) attemptCanonicalNonStream(req *requestCtx, up *upstream.Prepared, targetModel string, wireBody []byte, targetCodec dialect.Codec, injectMode bool, knownTools []ir.ToolSpec) (*NonStreamResult, error) {
	httpReq := transport.Request{
		Method:  "POST",
		URL:     up.RequestURL(targetModel, false),
		Headers: up.Headers,
		Proxy:   up.ProxyFor(false),
		Body:    wireBody,
	}
	resp, err := e.state.Transport.SendNonStream(req.ctx, httpReq)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, classifyUpstreamResponse(resp.Status, resp.Body)
	}

	canonicalResp, err := targetCodec.DecodeResponse(resp.Body)
	if err != nil {
		return nil, gwerrors.NewTranslation("failed to decode upstream response", err)
	}

	if injectMode {
		applyFcInjectExtraction(canonicalResp, knownTools)
	}

	outBody, err := req.codec.EncodeResponse(canonicalResp)
	if err != nil {
		return nil, gwerrors.NewTranslation("failed to encode response", err)
	}
	return &NonStreamResult{Status: 200, Body: outBody}, nil
}

// applyFcInjectExtraction scans the response's text parts for a
// fenced tool-call block and, when found, replaces that text part with
// the extracted ToolCallPart. A parse failure is left as plain text
// (spec.md §4.7: inject-mode extraction failures surface the model's
// raw text rather than erroring the whole request).
func applyFcInjectExtraction(resp *ir.Response, knownTools []ir.ToolSpec) {
	for i, part := range resp.Parts {
		text, ok := part.(ir.TextPart)
		if !ok {
			continue
		}
		call, found, err := fcinject.Extract(text.Text, knownTools)
		if err != nil || !found {
			continue
		}
		resp.Parts[i] = call
	}
}

func (e *Engine) attemptCanonicalStream(req *requestCtx, up *upstream.Prepared, targetModel string, wireBody []byte, targetCodec dialect.Codec, injectMode bool, knownTools []ir.ToolSpec, sink FrameSink) error {
	httpReq := transport.Request{
		Method:  "POST",
		URL:     up.RequestURL(targetModel, true),
		Headers: up.Headers,
		Proxy:   up.ProxyFor(true),
		Body:    wireBody,
	}
	resp, err := e.state.Transport.SendStream(req.ctx, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.Status < 200 || resp.Status >= 300 {
		errBody := drainUpToN(resp.Body, 64*1024)
		return classifyUpstreamResponse(resp.Status, errBody)
	}

	sink.WriteStatus(200)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var textBuf []byte
	var sawToolCandidate bool

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := sseDataPayload(line)
		if !ok {
			continue
		}
		events, err := targetCodec.DecodeStreamChunk([]byte(data))
		if err != nil {
			continue
		}
		for _, ev := range events {
			if injectMode && ev.Kind == ir.EventTextDelta {
				textBuf = append(textBuf, ev.Delta...)
				sawToolCandidate = true
				continue // buffered, not forwarded, until message_end
			}
			if ev.Kind == ir.EventMessageEnd && injectMode && sawToolCandidate {
				if err := e.flushInjectBuffer(req, string(textBuf), knownTools, sink); err != nil {
					return err
				}
			}
			if err := e.forwardEvent(req, ev, sink); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// flushInjectBuffer runs fcinject extraction over the buffered text
// once the upstream stream has ended, emitting either a tool-call
// frame sequence or the original text as a single delta.
func (e *Engine) flushInjectBuffer(req *requestCtx, text string, knownTools []ir.ToolSpec, sink FrameSink) error {
	call, found, err := fcinject.Extract(text, knownTools)
	if err != nil || !found {
		return e.forwardEvent(req, ir.StreamEvent{Kind: ir.EventTextDelta, Delta: text}, sink)
	}
	events := []ir.StreamEvent{
		{Kind: ir.EventToolCallStart, ToolCallID: call.ID, ToolCallName: call.Name},
		{Kind: ir.EventToolCallArgs, ToolCallID: call.ID, Delta: string(call.ArgumentsRawJSON)},
		{Kind: ir.EventToolCallEnd, ToolCallID: call.ID},
	}
	for _, ev := range events {
		if err := e.forwardEvent(req, ev, sink); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) forwardEvent(req *requestCtx, ev ir.StreamEvent, sink FrameSink) error {
	frames, err := req.codec.EncodeStreamEvent(ev)
	if err != nil {
		return gwerrors.NewTranslation("failed to encode stream event", err)
	}
	for _, f := range frames {
		req.firstByteSent = true
		if err := sink.WriteFrame(f); err != nil {
			return gwerrors.NewTransport("client disconnected mid-stream", err)
		}
	}
	return nil
}

// sseDataPayload extracts the payload of an SSE "data: ..." line,
// skipping blank separator lines, comments, and non-data fields.
func sseDataPayload(line string) (string, bool) {
	const prefix = "data: "
	if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
		return line[len(prefix):], true
	}
	const shortPrefix = "data:"
	if len(line) >= len(shortPrefix) && line[:len(shortPrefix)] == shortPrefix {
		return line[len(shortPrefix):], true
	}
	return "", false
}

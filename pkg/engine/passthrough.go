package engine

import (
	"bufio"
	"bytes"

	"github.com/relaygate/llmgateway/pkg/gwerrors"
	"github.com/relaygate/llmgateway/pkg/ir"
	"github.com/relaygate/llmgateway/pkg/probe"
	"github.com/relaygate/llmgateway/pkg/router"
	"github.com/relaygate/llmgateway/pkg/transport"
	"github.com/relaygate/llmgateway/pkg/upstream"
)

// rewriteModelIfNeeded returns body with the model field rewritten to
// targetModel when it differs from the requested model, else body
// unchanged — spec.md §4.7 phase 3/5 "forward the raw body (after
// optional model rewrite if the real model differs)".
func rewriteModelIfNeeded(body []byte, modelRange probe.Range, requestedModel, targetModel string) []byte {
	if requestedModel == targetModel || modelRange.Empty() {
		return body
	}
	return probe.RewriteModelInBody(body, modelRange, targetModel)
}

// attemptPassthroughNonStream forwards body to up (with model rewrite)
// and returns the upstream's bytes verbatim on 2xx, or a classified
// error on non-2xx.
func (e *Engine) attemptPassthroughNonStream(req *requestCtx, up *upstream.Prepared, targetModel string) (*NonStreamResult, error) {
	body := rewriteModelIfNeeded(req.rawBody, req.probe.ModelRange, req.probe.Model, targetModel)

	httpReq := transport.Request{
		Method:  "POST",
		URL:     up.RequestURL(targetModel, false),
		Headers: up.Headers,
		Proxy:   up.ProxyFor(false),
	}
	httpReq.Body = body

	resp, err := e.state.Transport.SendNonStream(req.ctx, httpReq)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 200 && resp.Status < 300 {
		h := resp.Headers.Clone()
		return &NonStreamResult{Status: resp.Status, Headers: h, Body: resp.Body}, nil
	}
	return nil, classifyUpstreamResponse(resp.Status, resp.Body)
}

// attemptPassthroughStream forwards body to up and relays the raw SSE
// bytes to sink unmodified, since the ingress and upstream speak the
// same wire dialect. The candidate is considered committed the moment
// the first byte is written (spec.md §4.7 "no mid-stream failover").
func (e *Engine) attemptPassthroughStream(req *requestCtx, up *upstream.Prepared, targetModel string, sink FrameSink) error {
	body := rewriteModelIfNeeded(req.rawBody, req.probe.ModelRange, req.probe.Model, targetModel)

	httpReq := transport.Request{
		Method:  "POST",
		URL:     up.RequestURL(targetModel, true),
		Headers: up.Headers,
		Proxy:   up.ProxyFor(true),
	}
	httpReq.Body = body

	resp, err := e.state.Transport.SendStream(req.ctx, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.Status < 200 || resp.Status >= 300 {
		errBody := drainUpToN(resp.Body, 64*1024)
		return classifyUpstreamResponse(resp.Status, errBody)
	}

	sink.WriteStatus(resp.Status)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		req.firstByteSent = true
		if err := sink.WriteFrame(line + "\n"); err != nil {
			return gwerrors.NewTransport("client disconnected mid-stream", err)
		}
	}
	return scanner.Err()
}

func drainUpToN(r interface{ Read([]byte) (int, error) }, n int) []byte {
	buf := make([]byte, n)
	var out bytes.Buffer
	for {
		k, err := r.Read(buf)
		if k > 0 {
			out.Write(buf[:k])
		}
		if err != nil || out.Len() >= n {
			break
		}
	}
	return out.Bytes()
}

// handleSingleCandidate implements spec.md §4.7 phase 3.
func (e *Engine) handleSingleCandidate(req *requestCtx, route router.Route, sink FrameSink) (*NonStreamResult, error) {
	up := e.state.Upstreams[route.UpstreamIndex]
	fcDecision := e.state.FcPolicy.Decide(route.UpstreamIndex, route.Model, req.probe.HasTools)

	if !req.probe.HasTools && !fcDecision.FcActive && ir.PassthroughCompatible(req.ingress, up.Provider) {
		return e.runPassthroughAttempt(req, route, up, sink)
	}

	if e.rawInjectApplicable(req, fcDecision) {
		if res, handled, err := e.attemptRawInject(req, route, up); handled {
			recordOutcome(e.state.Breakers, up.Name, route.UpstreamIndex, route.Model, err)
			if err == nil {
				return res, nil
			}
			// falls through to the canonical flow on error, per phase 7.
		}
	}

	decision := e.state.Breakers.Peek(route.UpstreamIndex, route.Model)
	return e.runCandidateRing(req, []ringEntry{{Route: route, Decision: decision}}, sink)
}

func (e *Engine) runPassthroughAttempt(req *requestCtx, route router.Route, up *upstream.Prepared, sink FrameSink) (*NonStreamResult, error) {
	if req.stream {
		err := e.attemptPassthroughStream(req, up, route.Model, sink)
		recordOutcome(e.state.Breakers, up.Name, route.UpstreamIndex, route.Model, err)
		return nil, err
	}
	res, err := e.attemptPassthroughNonStream(req, up, route.Model)
	recordOutcome(e.state.Breakers, up.Name, route.UpstreamIndex, route.Model, err)
	return res, err
}

package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/relaygate/llmgateway/pkg/gwerrors"
)

// Request is one outbound send, already fully formed (URL, headers,
// body) by the engine/upstream layers.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Proxy is the per-request proxy URL, empty for none. Passthrough
	// is only eligible when this is also empty (see Eligible).
	Proxy string
	// ForceH2C requests the passthrough family's h2c client.
	ForceH2C bool
}

// Response is a completed non-streaming send.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// StreamResponse is a completed streaming send whose body has not yet
// been read. Once the caller reads from Body, the candidate is
// committed — no further transport or engine retry may occur for this
// attempt (spec.md §4.7 "no mid-stream failover").
type StreamResponse struct {
	Status  int
	Headers http.Header
	Body    io.ReadCloser
}

// Client composes the generic and passthrough transport families with
// the retry policy into the single send surface the engine calls.
type Client struct {
	generic      *GenericTransport
	passthrough  *PassthroughTransport
	envProxy     bool
	retry        RetryConfig
	urlCacheMu   sync.Mutex
	urlCache     map[string]*url.URL
}

func NewClient(useEnvProxy, forceH2C bool) *Client {
	return &Client{
		generic:     NewGenericTransport(useEnvProxy),
		passthrough: NewPassthroughTransport(forceH2C),
		envProxy:    useEnvProxy,
		retry:       DefaultRetryConfig(),
		urlCache:    make(map[string]*url.URL),
	}
}

func (c *Client) parsedURL(raw string) (*url.URL, error) {
	c.urlCacheMu.Lock()
	if len(c.urlCache) > urlCacheSize {
		c.urlCache = make(map[string]*url.URL)
	}
	if u, ok := c.urlCache[raw]; ok {
		c.urlCacheMu.Unlock()
		return u, nil
	}
	c.urlCacheMu.Unlock()

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	c.urlCacheMu.Lock()
	c.urlCache[raw] = u
	c.urlCacheMu.Unlock()
	return u, nil
}

func (c *Client) httpClientFor(req Request) (*http.Client, error) {
	if Eligible(c.envProxy, req.Proxy) {
		u, err := c.parsedURL(req.URL)
		if err != nil {
			return nil, err
		}
		return c.passthrough.clientFor(u.Scheme, req.ForceH2C), nil
	}
	return c.generic.clientFor(req.Proxy)
}

func (c *Client) buildHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// SendNonStream performs one logical send with the transport-level
// retry policy applied: up to 2 additional attempts on a retriable
// status ({429,503,529}, honoring Retry-After) or a retriable
// transport-level error message.
func (c *Client) SendNonStream(ctx context.Context, req Request) (*Response, error) {
	httpClient, err := c.httpClientFor(req)
	if err != nil {
		return nil, gwerrors.NewTransport("failed to build http client", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxAdditionalAttempts; attempt++ {
		httpReq, err := c.buildHTTPRequest(ctx, req)
		if err != nil {
			return nil, gwerrors.NewTransport("failed to build request", err)
		}

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			if attempt == c.retry.MaxAdditionalAttempts || !IsRetriableTransportMessage(err.Error()) {
				return nil, gwerrors.NewTransport(err.Error(), err)
			}
			if !sleepOrDone(ctx, transportRetryDelay(c.retry, err.Error(), attempt)) {
				return nil, gwerrors.NewTransport("context cancelled during retry backoff", ctx.Err())
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt == c.retry.MaxAdditionalAttempts {
				return nil, gwerrors.NewTransport(readErr.Error(), readErr)
			}
			continue
		}

		if c.retry.RetriableStatuses[resp.StatusCode] && attempt < c.retry.MaxAdditionalAttempts {
			delay, ok := retryAfterDelay(c.retry, resp.Header, time.Now())
			if !ok {
				delay = backoffDelay(c.retry, attempt)
			}
			if !sleepOrDone(ctx, delay) {
				return nil, gwerrors.NewTransport("context cancelled during retry backoff", ctx.Err())
			}
			continue
		}

		return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
	}
	return nil, gwerrors.NewTransport("exhausted transport retries", lastErr)
}

// SendStream performs one streaming send. Transport-level retry only
// applies before any response is returned to the caller; once a
// StreamResponse is handed back, the candidate is committed.
func (c *Client) SendStream(ctx context.Context, req Request) (*StreamResponse, error) {
	httpClient, err := c.httpClientFor(req)
	if err != nil {
		return nil, gwerrors.NewTransport("failed to build http client", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxAdditionalAttempts; attempt++ {
		httpReq, err := c.buildHTTPRequest(ctx, req)
		if err != nil {
			return nil, gwerrors.NewTransport("failed to build request", err)
		}

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			if attempt == c.retry.MaxAdditionalAttempts || !IsRetriableTransportMessage(err.Error()) {
				return nil, gwerrors.NewTransport(err.Error(), err)
			}
			if !sleepOrDone(ctx, transportRetryDelay(c.retry, err.Error(), attempt)) {
				return nil, gwerrors.NewTransport("context cancelled during retry backoff", ctx.Err())
			}
			continue
		}

		if c.retry.RetriableStatuses[resp.StatusCode] && attempt < c.retry.MaxAdditionalAttempts {
			resp.Body.Close()
			delay, ok := retryAfterDelay(c.retry, resp.Header, time.Now())
			if !ok {
				delay = backoffDelay(c.retry, attempt)
			}
			if !sleepOrDone(ctx, delay) {
				return nil, gwerrors.NewTransport("context cancelled during retry backoff", ctx.Err())
			}
			continue
		}

		return &StreamResponse{Status: resp.StatusCode, Headers: resp.Header, Body: resp.Body}, nil
	}
	return nil, gwerrors.NewTransport("exhausted transport retries", lastErr)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Package transport implements the HTTP transport layer (spec.md
// §4.6, C9): two client families (a reqwest-style generic client with
// per-proxy pooling, and a hyper-style direct passthrough client) plus
// a transport-level retry policy independent of the engine's failover
// loop.
//
// Grounded on digitallysavvy-go-ai/pkg/internal/http/client.go
// (Client/Config/Do/Post/Get shape) and pkg/internal/retry/retry.go
// (exponential backoff with jitter, ShouldRetry predicate) — this
// package keeps the teacher's retry-config shape but replaces its
// general-purpose backoff with the exact constants and Retry-After
// handling spec.md §4.6 requires.
package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig is the transport-level retry policy, independent of and
// nested inside the engine's own candidate failover loop.
type RetryConfig struct {
	MaxAdditionalAttempts int
	RetriableStatuses     map[int]bool
	RetryAfterCap         time.Duration
	BackoffBase           time.Duration
	BackoffCap            time.Duration
}

// DefaultRetryConfig matches spec.md §4.6 exactly: max 2 additional
// attempts, {429,503,529} retriable, Retry-After capped at 30s,
// otherwise exponential backoff from 100ms capped at 1s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAdditionalAttempts: 2,
		RetriableStatuses:     map[int]bool{429: true, 503: true, 529: true},
		RetryAfterCap:         30 * time.Second,
		BackoffBase:           100 * time.Millisecond,
		BackoffCap:            1 * time.Second,
	}
}

// retriableTransportSubstrings are case-insensitive substrings of a
// transport-level error message that make it eligible for transport
// retry, per spec.md §4.6.
var retriableTransportSubstrings = []string{
	"timed out", "timeout", "connection reset", "connection aborted",
	"broken pipe", "http2 error", "connection refused", "unexpected eof",
	"stream closed",
}

// immediateRetrySubstrings is the subset whose first retry happens
// with no delay at all; their second retry uses a fixed 10ms delay
// instead of the exponential backoff schedule.
var immediateRetrySubstrings = []string{
	"connection reset", "connection aborted", "broken pipe", "http2 error",
	"unexpected eof", "stream closed",
}

// IsRetriableTransportMessage reports whether a transport-level error
// message matches one of the retriable substrings.
func IsRetriableTransportMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range retriableTransportSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func isImmediateRetryMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range immediateRetrySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// backoffDelay computes the exponential backoff delay for the Nth
// retry (0-indexed), capped at cfg.BackoffCap.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := cfg.BackoffBase << uint(attempt)
	if d > cfg.BackoffCap || d <= 0 {
		return cfg.BackoffCap
	}
	return d
}

// transportRetryDelay computes the delay before retrying after a
// transport-level (non-HTTP-status) error, per the immediate-then-10ms
// rule for connection-shape failures and exponential backoff for
// everything else (e.g. plain "timeout").
func transportRetryDelay(cfg RetryConfig, msg string, attempt int) time.Duration {
	if isImmediateRetryMessage(msg) {
		if attempt == 0 {
			return 0
		}
		return 10 * time.Millisecond
	}
	return backoffDelay(cfg, attempt)
}

// retryAfterDelay parses a Retry-After header (seconds or HTTP-date
// form) and caps it at cfg.RetryAfterCap. Returns (0, false) if the
// header is absent or unparseable, in which case the caller falls back
// to exponential backoff.
func retryAfterDelay(cfg RetryConfig, h http.Header, now time.Time) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		d := time.Duration(secs) * time.Second
		if d > cfg.RetryAfterCap {
			d = cfg.RetryAfterCap
		}
		if d < 0 {
			d = 0
		}
		return d, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		if d > cfg.RetryAfterCap {
			d = cfg.RetryAfterCap
		}
		return d, true
	}
	return 0, false
}

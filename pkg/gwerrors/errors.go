// Package gwerrors implements the error taxonomy of spec.md §7 as a
// single wrapped struct type, grounded on the teacher's
// pkg/provider/errors.ProviderError/ValidationError pattern: a
// category field plus Unwrap() rather than a sealed enum, since Go has
// no discriminated unions (see design notes in SPEC_FULL.md).
package gwerrors

import (
	"errors"
	"fmt"
)

// Category is the closed set of error categories from spec.md §7.
// Kept as a string-backed type (not a Rust-style enum) but treated as
// closed: callers switch exhaustively on the Category constants below.
type Category string

const (
	CategoryConfig         Category = "config"
	CategoryAuth           Category = "auth"
	CategoryInvalidRequest Category = "invalid_request"
	CategoryUpstream       Category = "upstream"
	CategoryTransport      Category = "transport"
	CategoryTranslation    Category = "translation"
	CategoryFcParse        Category = "fc_parse"
	CategoryInternal       Category = "internal"
)

// Error is the gateway's single error type. Every category above maps
// to a constructor rather than a distinct Go type, so failover and
// retry code can pattern-match on Category without a type switch.
type Error struct {
	Category Category

	// UpstreamStatus is the HTTP status returned by the upstream, when
	// Category == CategoryUpstream. Zero otherwise.
	UpstreamStatus int

	// Message is a sanitized, short message safe to surface to the
	// client. Never the raw upstream body.
	Message string

	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

func new(cat Category, msg string, cause error) *Error {
	return &Error{Category: cat, Message: msg, Cause: cause}
}

func NewConfig(msg string, cause error) *Error         { return new(CategoryConfig, msg, cause) }
func NewAuth(msg string) *Error                        { return new(CategoryAuth, msg, nil) }
func NewInvalidRequest(msg string, cause error) *Error { return new(CategoryInvalidRequest, msg, cause) }
func NewTransport(msg string, cause error) *Error      { return new(CategoryTransport, msg, cause) }
func NewTranslation(msg string, cause error) *Error    { return new(CategoryTranslation, msg, cause) }
func NewFcParse(msg string, cause error) *Error        { return new(CategoryFcParse, msg, cause) }
func NewInternal(msg string, cause error) *Error       { return new(CategoryInternal, msg, cause) }

// NewUpstream builds a Category=upstream error, sanitizing the
// message to a 500-char cap per spec.md §7 propagation policy.
func NewUpstream(status int, message string) *Error {
	if len(message) > 500 {
		message = message[:500]
	}
	return &Error{Category: CategoryUpstream, UpstreamStatus: status, Message: message}
}

// HTTPStatus maps a category (and, for Upstream, the preserved
// status) to the response status code per spec.md §6.
func (e *Error) HTTPStatus() int {
	switch e.Category {
	case CategoryInvalidRequest, CategoryTranslation, CategoryFcParse:
		return 400
	case CategoryAuth:
		return 401
	case CategoryUpstream:
		if e.UpstreamStatus >= 400 && e.UpstreamStatus < 500 {
			return e.UpstreamStatus
		}
		return 500
	case CategoryTransport, CategoryInternal:
		return 500
	default:
		return 500
	}
}

// Retriable reports whether an error of this shape is eligible for
// engine-layer failover to the next candidate (spec.md §4.3 failover
// eligibility, §4.7 fatal-error list).
func (e *Error) Retriable() bool {
	if e.Category == CategoryTransport {
		return true
	}
	if e.Category != CategoryUpstream {
		return false
	}
	switch e.UpstreamStatus {
	case 408, 425, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

// TripsBreaker reports whether this error counts toward the circuit
// breaker's consecutive-failure count (spec.md §4.3): Transport errors
// and upstream statuses in {429, 529, 5xx}. 4xx client errors never
// trip the breaker.
func (e *Error) TripsBreaker() bool {
	if e.Category == CategoryTransport {
		return true
	}
	if e.Category != CategoryUpstream {
		return false
	}
	if e.UpstreamStatus == 429 || e.UpstreamStatus == 529 {
		return true
	}
	return e.UpstreamStatus >= 500
}

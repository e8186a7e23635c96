package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOptions configures one request or per-candidate span, mirroring
// the teacher's pkg/telemetry.SpanOptions.
type SpanOptions struct {
	Name       string
	Attributes []attribute.KeyValue
}

// RecordSpan starts a span, runs fn, records any error on the span,
// and always ends the span before returning — a request or per-
// candidate attempt is always a single bounded operation here, unlike
// the teacher's EndWhenDone flag which left streaming spans open
// across multiple calls.
func RecordSpan[T any](ctx context.Context, tracer trace.Tracer, opts SpanOptions, fn func(context.Context, trace.Span) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, opts.Name, trace.WithAttributes(opts.Attributes...))
	defer span.End()

	result, err := fn(ctx, span)
	if err != nil {
		RecordErrorOnSpan(span, err)
	}
	return result, err
}

// RecordErrorOnSpan records err on span and marks the span status
// accordingly.
func RecordErrorOnSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RequestAttributes returns the base attribute set every request span
// carries (spec.md §3 request identity fields).
func RequestAttributes(ingress, model string, requestSeq uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("gateway.ingress", ingress),
		attribute.String("gateway.model", model),
		attribute.Int64("gateway.request_seq", int64(requestSeq)),
	}
}

// CandidateAttributes returns the attribute set attached to a span
// covering one candidate-ring attempt.
func CandidateAttributes(upstreamName string, upstreamIndex int, actualModel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("gateway.upstream", upstreamName),
		attribute.Int("gateway.upstream_index", upstreamIndex),
		attribute.String("gateway.actual_model", actualModel),
	}
}

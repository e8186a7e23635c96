// Package telemetry carries the gateway's ambient observability stack:
// structured logging (zap), tracing (OpenTelemetry), and Prometheus
// metrics. Grounded on the teacher's own pkg/telemetry package
// (GetTracer/RecordSpan) plus the zap/prometheus idioms found
// elsewhere in the retrieved pack (kubilitics-ai).
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide structured logger from the
// configured level string (spec.md §6 features.log_level). An
// unrecognized level falls back to info rather than failing startup,
// since a bad log_level shouldn't be fatal the way a bad provider name
// is.
func NewLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// RequestFields builds the per-request structured fields that
// engine.Serve attaches to the log line it writes when a request
// completes or fails (spec.md §3 "request_id is
// derived from request_seq ... correlations across logs remain
// stable").
func RequestFields(requestID string, ingress, model string) []zap.Field {
	return []zap.Field{
		zap.String("request_id", requestID),
		zap.String("ingress", ingress),
		zap.String("model", model),
	}
}

package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName identifies every span this gateway emits.
const TracerName = "llmgateway"

// Settings mirrors the teacher's pkg/telemetry.Settings, trimmed to
// what the gateway actually needs: a kill switch and an optional
// caller-supplied tracer (tests wire a noop or recording tracer here).
type Settings struct {
	IsEnabled bool
	Tracer    trace.Tracer
}

// GetTracer returns a no-op tracer when telemetry is disabled, the
// caller-supplied tracer when set, or the global OTel tracer
// otherwise — identical fallback order to the teacher's GetTracer.
func GetTracer(settings *Settings) trace.Tracer {
	if settings == nil || !settings.IsEnabled {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	if settings.Tracer != nil {
		return settings.Tracer
	}
	return otel.Tracer(TracerName)
}

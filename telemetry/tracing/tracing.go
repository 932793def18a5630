// Package tracing is the public facade over the adaptive span tracer that
// tags RunEngine dispatch for correlation with structured
// logs (telemetry/logging). The sampling/adaptive logic itself lives in
// internal/telemetry/tracing so it can be tuned via internal/telemetry/policy
// without growing this package's exported surface.
package tracing

import (
	"context"

	internaltracing "github.com/easternanemone/rudaq/internal/telemetry/tracing"
	"github.com/easternanemone/rudaq/internal/telemetry/policy"
)

// Span is a single traced operation.
type Span = internaltracing.Span

// SpanContext carries the correlation identifiers for a Span.
type SpanContext = internaltracing.SpanContext

// Tracer starts spans, optionally sampling them.
type Tracer = internaltracing.Tracer

// NewTracer returns a Tracer that is either always-on or a no-op.
func NewTracer(enabled bool) Tracer {
	return internaltracing.NewTracer(enabled)
}

// NewAdaptiveTracer returns a Tracer whose sample rate is read from percentFn
// on every root span start (see internal/telemetry/policy.TracingPolicy).
func NewAdaptiveTracer(percentFn func() float64) Tracer {
	return internaltracing.NewAdaptiveTracer(percentFn)
}

// SpanFromContext returns the active Span carried by ctx, or an empty Span
// with no trace or span id if none is present.
func SpanFromContext(ctx context.Context) Span {
	return internaltracing.SpanFromContext(ctx)
}

// ExtractIDs returns the trace/span id pair for log correlation.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	return internaltracing.ExtractIDs(ctx)
}

// NewFromPolicy builds a Tracer whose sample rate tracks p.SamplePercent.
// p is captured by value: callers that want live policy updates should hold
// their TelemetryPolicy behind their own atomically-swapped pointer and
// build a fresh Tracer when it changes, per internal/telemetry/policy's
// "swapped atomically, no locks on hot paths" design.
func NewFromPolicy(p policy.TracingPolicy) Tracer {
	p = policy.TelemetryPolicy{Tracing: p}.Normalize().Tracing
	if p.SamplePercent <= 0 {
		return NewTracer(false)
	}
	if p.SamplePercent >= 100 {
		return NewTracer(true)
	}
	return NewAdaptiveTracer(func() float64 { return p.SamplePercent })
}

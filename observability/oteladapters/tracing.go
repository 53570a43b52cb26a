package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/digilib/lendingledger/observability"
)

// TracingCollector creates one OpenTelemetry span per ledger operation.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a collector on top of a tracer from your TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

func (t *TracingCollector) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, observability.SpanContext) {

	spanCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))

	return spanCtx, &SpanContext{span: span}
}

// FinishSpan sets the final attributes and status, then ends the span.
// Spans not created by this collector are ignored.
func (t *TracingCollector) FinishSpan(spanCtx observability.SpanContext, status string, attrs map[string]string) {
	s, ok := spanCtx.(*SpanContext)
	if !ok {
		return
	}

	s.span.SetAttributes(toAttributes(attrs)...)
	s.SetStatus(status)
	s.span.End()
}

// SpanContext wraps an OpenTelemetry span.
type SpanContext struct {
	span trace.Span
}

// SetStatus maps ledger status strings onto span status codes.
// Unknown strings are recorded as a "status" attribute.
func (s *SpanContext) SetStatus(status string) {
	switch status {
	case observability.StatusSuccess, "ok", "completed":
		s.span.SetStatus(codes.Ok, "")
	case observability.StatusError, "failed":
		s.span.SetStatus(codes.Error, "operation failed")
	case observability.StatusCanceled, "cancelled", "timeout":
		s.span.SetStatus(codes.Error, "operation canceled")
	case observability.StatusConflict:
		s.span.SetStatus(codes.Error, "concurrent modification")
	case observability.StatusRejected:
		// rejected commands end with Ok and keep the outcome as an attribute
		s.span.SetStatus(codes.Ok, "")
		s.span.SetAttributes(attribute.String("status", status))
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

func (s *SpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

var (
	_ observability.TracingCollector = (*TracingCollector)(nil)
	_ observability.SpanContext      = (*SpanContext)(nil)
)

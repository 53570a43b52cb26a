package observability

import (
	"context"
	"maps"
	"math"
	"strconv"
	"time"
)

const (
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"

	AttrDurationMS = "duration_ms"
	AttrError      = "error"
)

// Instrumentation bundles the optional collectors of a component.
// Every method is a no-op for collectors that are not configured, so the zero value is usable.
type Instrumentation struct {
	Logger           Logger
	ContextualLogger ContextualLogger
	Metrics          MetricsCollector
	Tracing          TracingCollector
}

// StartSpan starts a tracing span if tracing is configured.
func (in Instrumentation) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, SpanContext) {

	if in.Tracing == nil {
		return ctx, nil
	}

	return in.Tracing.StartSpan(ctx, name, attrs)
}

// FinishSpan finishes span with status; the duration is added as an attribute.
func (in Instrumentation) FinishSpan(
	span SpanContext,
	status string,
	duration time.Duration,
	attrs map[string]string,
) {

	if in.Tracing == nil || span == nil {
		return
	}

	all := map[string]string{AttrDurationMS: strconv.FormatFloat(ToMilliseconds(duration), 'f', 3, 64)}
	maps.Copy(all, attrs)

	span.SetStatus(status)
	in.Tracing.FinishSpan(span, status, all)
}

// RecordDuration records a duration metric, preferring the contextual collector.
func (in Instrumentation) RecordDuration(
	ctx context.Context,
	metric string,
	duration time.Duration,
	labels map[string]string,
) {

	if in.Metrics == nil {
		return
	}

	if contextual, ok := in.Metrics.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	in.Metrics.RecordDuration(metric, duration, labels)
}

// IncrementCounter increments a counter metric, preferring the contextual collector.
func (in Instrumentation) IncrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if in.Metrics == nil {
		return
	}

	if contextual, ok := in.Metrics.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	in.Metrics.IncrementCounter(metric, labels)
}

// RecordValue records a gauge metric, preferring the contextual collector.
func (in Instrumentation) RecordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if in.Metrics == nil {
		return
	}

	if contextual, ok := in.Metrics.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	in.Metrics.RecordValue(metric, value, labels)
}

// Debug logs to both loggers, if configured.
func (in Instrumentation) Debug(ctx context.Context, msg string, args ...any) {
	if in.Logger != nil {
		in.Logger.Debug(msg, args...)
	}

	if in.ContextualLogger != nil {
		in.ContextualLogger.DebugContext(ctx, msg, args...)
	}
}

// Info logs to both loggers, if configured.
func (in Instrumentation) Info(ctx context.Context, msg string, args ...any) {
	if in.Logger != nil {
		in.Logger.Info(msg, args...)
	}

	if in.ContextualLogger != nil {
		in.ContextualLogger.InfoContext(ctx, msg, args...)
	}
}

// Warn logs to both loggers, if configured.
func (in Instrumentation) Warn(ctx context.Context, msg string, args ...any) {
	if in.Logger != nil {
		in.Logger.Warn(msg, args...)
	}

	if in.ContextualLogger != nil {
		in.ContextualLogger.WarnContext(ctx, msg, args...)
	}
}

// Error logs err with args to both loggers, if configured.
func (in Instrumentation) Error(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{AttrError, err.Error()}, args...)

	if in.Logger != nil {
		in.Logger.Error(msg, allArgs...)
	}

	if in.ContextualLogger != nil {
		in.ContextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

// ToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func ToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

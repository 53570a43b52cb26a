package oteladapters_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/log/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/digilib/lendingledger/observability"
	"github.com/digilib/lendingledger/observability/oteladapters"
)

func givenMetricsCollector() (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return oteladapters.NewMetricsCollector(provider.Meter("test")), reader
}

func givenTracingCollector() (*oteladapters.TracingCollector, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	return oteladapters.NewTracingCollector(provider.Tracer("test")), exporter
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Aggregation {
	t.Helper()

	for _, scopeMetrics := range rm.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}

	t.Fatalf("metric %s not found", name)

	return nil
}

func Test_MetricsCollector_RecordDuration_InSeconds(t *testing.T) {
	// arrange
	collector, reader := givenMetricsCollector()

	// act
	collector.RecordDuration("ledger_borrow_duration_seconds", 150*time.Millisecond, map[string]string{
		"status": "success",
	})

	// assert
	histogram, ok := findMetric(t, collect(t, reader), "ledger_borrow_duration_seconds").(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histogram.DataPoints, 1)
	assert.Equal(t, uint64(1), histogram.DataPoints[0].Count)
	assert.InDelta(t, 0.15, histogram.DataPoints[0].Sum, 0.001)

	expected := attribute.NewSet(attribute.String("status", "success"))
	assert.True(t, histogram.DataPoints[0].Attributes.Equals(&expected))
}

func Test_MetricsCollector_IncrementCounter_ReusesInstrument(t *testing.T) {
	// arrange
	collector, reader := givenMetricsCollector()
	labels := map[string]string{"operation": "borrow", "status": "rejected"}

	// act
	collector.IncrementCounter("ledger_operations_total", labels)
	collector.IncrementCounterContext(context.Background(), "ledger_operations_total", labels)

	// assert
	sum, ok := findMetric(t, collect(t, reader), "ledger_operations_total").(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	collector, reader := givenMetricsCollector()

	collector.RecordValue("ledger_coordinator_active_locks", 3, nil)

	gauge, ok := findMetric(t, collect(t, reader), "ledger_coordinator_active_locks").(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 3.0, gauge.DataPoints[0].Value)
}

func Test_MetricsCollector_IsSafeForConcurrentUse(t *testing.T) {
	// arrange
	collector, reader := givenMetricsCollector()
	var wg sync.WaitGroup

	// act
	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			collector.IncrementCounter("ledger_concurrent_total", nil)
		}()
	}

	wg.Wait()

	// assert
	sum, ok := findMetric(t, collect(t, reader), "ledger_concurrent_total").(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(50), sum.DataPoints[0].Value)
}

func Test_TracingCollector_StatusMapping(t *testing.T) {
	testCases := []struct {
		status   string
		wantCode codes.Code
	}{
		{status: observability.StatusSuccess, wantCode: codes.Ok},
		{status: observability.StatusRejected, wantCode: codes.Ok},
		{status: observability.StatusError, wantCode: codes.Error},
		{status: observability.StatusConflict, wantCode: codes.Error},
		{status: observability.StatusCanceled, wantCode: codes.Error},
		{status: "something_else", wantCode: codes.Unset},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			// arrange
			collector, exporter := givenTracingCollector()

			// act
			_, span := collector.StartSpan(context.Background(), "lending.borrow", map[string]string{"book_id": "b1"})
			collector.FinishSpan(span, tc.status, map[string]string{"member_id": "m1"})

			// assert
			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, "lending.borrow", spans[0].Name)
			assert.Equal(t, tc.wantCode, spans[0].Status.Code)
			assert.Contains(t, spans[0].Attributes, attribute.String("book_id", "b1"))
			assert.Contains(t, spans[0].Attributes, attribute.String("member_id", "m1"))
		})
	}
}

func Test_TracingCollector_AddAttribute(t *testing.T) {
	collector, exporter := givenTracingCollector()

	_, span := collector.StartSpan(context.Background(), "catalog.create", nil)
	span.AddAttribute("book_id", "b9")
	collector.FinishSpan(span, observability.StatusSuccess, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes, attribute.String("book_id", "b9"))
}

func Test_SlogBridgeLogger_WithHandler(t *testing.T) {
	// arrange
	var buf bytes.Buffer
	logger := oteladapters.NewSlogBridgeLoggerWithHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	ctx := context.Background()

	// act
	logger.DebugContext(ctx, "debug message", "book_id", "b1")
	logger.InfoContext(ctx, "info message")
	logger.WarnContext(ctx, "warn message")
	logger.ErrorContext(ctx, "error message", "error", "boom")

	// assert
	output := buf.String()
	assert.Contains(t, output, `"msg":"debug message"`)
	assert.Contains(t, output, `"book_id":"b1"`)
	assert.Contains(t, output, `"level":"INFO"`)
	assert.Contains(t, output, `"level":"WARN"`)
	assert.Contains(t, output, `"error":"boom"`)
}

func Test_NewSlogBridgeLogger_UsesGlobalProvider(t *testing.T) {
	logger := oteladapters.NewSlogBridgeLogger("lendingledger")

	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "hello", "book_id", "b1")
	})
}

func Test_OTelLogger_EmitsWithoutPanicking(t *testing.T) {
	logger := oteladapters.NewOTelLogger(noop.NewLoggerProvider().Logger("test"))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		logger.DebugContext(ctx, "debug", "key", "value")
		logger.InfoContext(ctx, "info", "dangling")
		logger.WarnContext(ctx, "warn", 42, "non-string key")
		logger.ErrorContext(ctx, "error", "error", errors.New("boom"))
	})
}

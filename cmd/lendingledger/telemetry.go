package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/digilib/lendingledger/config"
	"github.com/digilib/lendingledger/observability"
	"github.com/digilib/lendingledger/observability/oteladapters"
)

const (
	serviceName          = "lendingledger"
	metricExportInterval = 15 * time.Second
)

// telemetry is what every component receives through its WithLogger/WithMetrics/... options.
// The collectors stay nil unless LEDGER_OTEL is set.
type telemetry struct {
	logger     *slog.Logger
	contextual observability.ContextualLogger
	metrics    observability.MetricsCollector
	tracing    observability.TracingCollector
	shutdown   func(ctx context.Context) error
}

func newTelemetry(ctx context.Context, cfg config.Config) (telemetry, error) {
	t := telemetry{
		logger:   slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})),
		shutdown: func(context.Context) error { return nil },
	}

	if !cfg.OTelEnabled {
		return t, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return telemetry{}, err
	}

	traceOptions := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	meterOptions := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.OTelEndpoint != "" {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTelEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return telemetry{}, err
		}

		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTelEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return telemetry{}, errors.Join(err, traceExporter.Shutdown(ctx))
		}

		traceOptions = append(traceOptions, sdktrace.WithBatcher(traceExporter))
		meterOptions = append(meterOptions, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricExportInterval)),
		))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOptions...)
	meterProvider := sdkmetric.NewMeterProvider(meterOptions...)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.contextual = oteladapters.NewSlogBridgeLogger(serviceName)
	t.metrics = oteladapters.NewMetricsCollector(meterProvider.Meter(serviceName))
	t.tracing = oteladapters.NewTracingCollector(tracerProvider.Tracer(serviceName))
	t.shutdown = func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}

	t.logger.Info("opentelemetry enabled", "service", serviceName, "endpoint", cfg.OTelEndpoint)

	return t, nil
}

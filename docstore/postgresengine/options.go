package postgresengine

import (
	"github.com/digilib/lendingledger/observability"
)

// Option defines a functional option for configuring a DocumentStore.
type Option func(*DocumentStore) error

// WithTableName sets the table that holds the documents. The bundled migrations create "documents".
func WithTableName(tableName string) Option {
	return func(ds *DocumentStore) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		ds.tableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the DocumentStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: document counts, durations, failed preconditions (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger observability.Logger) Option {
	return func(ds *DocumentStore) error {
		ds.observer.Logger = logger
		return nil
	}
}

// WithContextualLogger sets a logger that receives the operation context, for trace correlation.
func WithContextualLogger(logger observability.ContextualLogger) Option {
	return func(ds *DocumentStore) error {
		ds.observer.ContextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for durations, operation counts, failed preconditions
// and database errors.
func WithMetrics(collector observability.MetricsCollector) Option {
	return func(ds *DocumentStore) error {
		ds.observer.Metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector. Every store operation gets its own span.
func WithTracing(collector observability.TracingCollector) Option {
	return func(ds *DocumentStore) error {
		ds.observer.Tracing = collector
		return nil
	}
}

// WithIDGenerator replaces uuid.NewString for store-assigned document IDs.
func WithIDGenerator(newID func() string) Option {
	return func(ds *DocumentStore) error {
		if newID == nil {
			return ErrNilIDGenerator
		}

		ds.newID = newID

		return nil
	}
}

package postgresengine_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/docstore/postgresengine"
	"github.com/digilib/lendingledger/internal/pgtest"
	"github.com/digilib/lendingledger/internal/testdoubles"
)

func Test_Observability_SuccessfulUpdate(t *testing.T) {
	// arrange
	logSpy := testdoubles.NewLogHandlerSpy(false)
	metricsSpy := testdoubles.NewMetricsCollectorSpy()
	tracingSpy := testdoubles.NewTracingCollectorSpy()

	store := givenStore(t,
		postgresengine.WithLogger(slog.New(logSpy)),
		postgresengine.WithMetrics(metricsSpy),
		postgresengine.WithTracing(tracingSpy),
	)
	collection := pgtest.UniqueCollection("books")
	book := givenBook(t, store, collection, 1)

	// act
	_, err := store.Update(context.Background(), collection, book.ID, borrowMutation("m1"))

	// assert
	require.NoError(t, err)

	assert.True(t, logSpy.HasLog(slog.LevelInfo, "docstore operation: update completed").
		WithDurationMS().
		WithAttrValue("document_id", book.ID).
		Assert())
	assert.True(t, logSpy.HasLog(slog.LevelDebug, "executed sql for: update").WithAttr("query").Assert())

	successLabels := map[string]string{"operation": "update", "status": "success"}
	assert.True(t, metricsSpy.HasDuration("docstore_operation_duration_seconds", successLabels))
	assert.Equal(t, 1, metricsSpy.CounterCount("docstore_operations_total", successLabels))

	spans := tracingSpy.Spans("docstore.update")
	require.Len(t, spans, 1)
	assert.Equal(t, "success", spans[0].Status)
	assert.Equal(t, collection, spans[0].StartAttrs["collection"])
}

func Test_Observability_FailedPrecondition(t *testing.T) {
	// arrange
	logSpy := testdoubles.NewLogHandlerSpy(false)
	metricsSpy := testdoubles.NewMetricsCollectorSpy()
	tracingSpy := testdoubles.NewTracingCollectorSpy()

	store := givenStore(t,
		postgresengine.WithLogger(slog.New(logSpy)),
		postgresengine.WithMetrics(metricsSpy),
		postgresengine.WithTracing(tracingSpy),
	)
	collection := pgtest.UniqueCollection("books")
	book := givenBook(t, store, collection, 1)
	ctx := context.Background()

	_, err := store.Update(ctx, collection, book.ID, borrowMutation("m1"))
	require.NoError(t, err)

	// act
	_, err = store.Update(ctx, collection, book.ID, borrowMutation("m1"))

	// assert
	assert.ErrorIs(t, err, docstore.ErrPreconditionFailed)

	assert.True(t, logSpy.HasLog(slog.LevelInfo, "docstore operation: precondition failed").
		WithAttrValue("operation", "update").
		Assert())
	assert.Equal(t, 1, metricsSpy.CounterCount("docstore_precondition_failures_total", map[string]string{
		"operation":  "update",
		"error_type": "precondition_failed",
	}))

	spans := tracingSpy.Spans("docstore.update")
	require.Len(t, spans, 2)
	assert.Equal(t, "conflict", spans[1].Status)
	assert.Equal(t, "precondition_failed", spans[1].EndAttrs["error_type"])
}

func Test_Observability_ContextualLoggerReceivesQueryCount(t *testing.T) {
	logSpy := testdoubles.NewLogHandlerSpy(false)
	store := givenStore(t, postgresengine.WithContextualLogger(slog.New(logSpy)))
	collection := pgtest.UniqueCollection("books")
	givenBook(t, store, collection, 1)

	for _, err := range store.Query(context.Background(), collection, docstore.BuildFilter().MatchingAll()) {
		require.NoError(t, err)
	}

	assert.True(t, logSpy.HasLog(slog.LevelInfo, "docstore operation: query completed").
		WithAttrValue("document_count", "1").
		Assert())
}

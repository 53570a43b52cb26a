package postgresengine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/observability"
)

const (
	metricOperationDuration    = "docstore_operation_duration_seconds"
	metricOperationsTotal      = "docstore_operations_total"
	metricPreconditionFailures = "docstore_precondition_failures_total"
	metricDatabaseErrors       = "docstore_database_errors_total"
	metricDocumentsReturned    = "docstore_documents_returned"

	spanPrefix = "docstore."

	attrCollection    = "collection"
	attrDocumentID    = "document_id"
	attrDocumentCount = "document_count"
	attrWriteCount    = "write_count"
	attrQuery         = "query"

	errorTypeNotFound     = "not_found"
	errorTypeExists       = "already_exists"
	errorTypePrecondition = "precondition_failed"
	errorTypeInvalid      = "invalid_input"
	errorTypeCanceled     = "canceled"
	errorTypeDatabase     = "database"

	operationGet    = "get"
	operationQuery  = "query"
	operationCreate = "create"
	operationUpdate = "update"
	operationCommit = "commit"
	operationPurge  = "purge"
	operationDelete = "delete"

	logMsgSQLExecuted          = "executed sql for: "
	logMsgOperation            = "docstore operation: "
	logMsgOperationFailed      = "docstore operation failed: "
	logMsgPreconditionFailed   = "precondition failed"
	logMsgRollbackFailed       = "failed to roll back transaction"
	logMsgCloseRowsFailed      = "failed to close database rows"
	logMsgOperationCompleted   = "completed"
	logAttrRowsAffected        = "rows_affected"
	logAttrErrorType           = "error_type"
	logAttrDocumentVersionNext = "version"
)

// operationObserver carries the span, timer and labels of one store operation.
type operationObserver struct {
	observer  observability.Instrumentation
	ctx       context.Context
	operation string
	span      observability.SpanContext
	start     time.Time
}

func (ds DocumentStore) startOperation(
	ctx context.Context,
	operation string,
	collection string,
) (*operationObserver, context.Context) {

	attrs := map[string]string{
		observability.LabelOperation: operation,
		attrCollection:               collection,
	}

	spanCtx, span := ds.observer.StartSpan(ctx, spanPrefix+operation, attrs)

	return &operationObserver{
		observer:  ds.observer,
		ctx:       spanCtx,
		operation: operation,
		span:      span,
		start:     time.Now(),
	}, spanCtx
}

func (o *operationObserver) logSQL(sqlQuery string, duration time.Duration) {
	o.observer.Debug(o.ctx, logMsgSQLExecuted+o.operation,
		observability.AttrDurationMS, observability.ToMilliseconds(duration),
		attrQuery, sqlQuery,
	)
}

func (o *operationObserver) succeed(args ...any) {
	duration := time.Since(o.start)
	labels := map[string]string{
		observability.LabelOperation: o.operation,
		observability.LabelStatus:    observability.StatusSuccess,
	}

	o.observer.RecordDuration(o.ctx, metricOperationDuration, duration, labels)
	o.observer.IncrementCounter(o.ctx, metricOperationsTotal, labels)

	if o.operation == operationQuery {
		for i := 0; i+1 < len(args); i += 2 {
			if args[i] == attrDocumentCount {
				if n, ok := args[i+1].(int); ok {
					o.observer.RecordValue(o.ctx, metricDocumentsReturned, float64(n), labels)
				}
			}
		}
	}

	o.observer.Info(o.ctx, logMsgOperation+o.operation+" "+logMsgOperationCompleted,
		append([]any{observability.AttrDurationMS, observability.ToMilliseconds(duration)}, args...)...,
	)

	o.observer.FinishSpan(o.span, observability.StatusSuccess, duration, spanAttributes(args))
}

func (o *operationObserver) fail(err error) {
	duration := time.Since(o.start)
	errorType, status := classifyError(err)
	labels := map[string]string{
		observability.LabelOperation: o.operation,
		observability.LabelStatus:    status,
		observability.LabelErrorType: errorType,
	}

	o.observer.RecordDuration(o.ctx, metricOperationDuration, duration, labels)
	o.observer.IncrementCounter(o.ctx, metricOperationsTotal, labels)

	switch errorType {
	case errorTypePrecondition:
		o.observer.IncrementCounter(o.ctx, metricPreconditionFailures, labels)
		o.observer.Info(o.ctx, logMsgOperation+logMsgPreconditionFailed, observability.LabelOperation, o.operation)
	case errorTypeDatabase:
		o.observer.IncrementCounter(o.ctx, metricDatabaseErrors, labels)
		o.observer.Error(o.ctx, logMsgOperationFailed+o.operation, err, logAttrErrorType, errorType)
	default:
		o.observer.Debug(o.ctx, logMsgOperationFailed+o.operation, observability.AttrError, err.Error(), logAttrErrorType, errorType)
	}

	o.observer.FinishSpan(o.span, status, duration, map[string]string{observability.LabelErrorType: errorType})
}

func classifyError(err error) (errorType string, status string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorTypeCanceled, observability.StatusCanceled
	case errors.Is(err, docstore.ErrPreconditionFailed):
		return errorTypePrecondition, observability.StatusConflict
	case errors.Is(err, docstore.ErrNotFound):
		return errorTypeNotFound, observability.StatusRejected
	case errors.Is(err, docstore.ErrAlreadyExists):
		return errorTypeExists, observability.StatusRejected
	case errors.Is(err, docstore.ErrInvalidMutation),
		errors.Is(err, docstore.ErrInvalidFilter),
		errors.Is(err, docstore.ErrInvalidDocument),
		errors.Is(err, docstore.ErrEmptyCollection),
		errors.Is(err, docstore.ErrEmptyCommit):
		return errorTypeInvalid, observability.StatusRejected
	default:
		return errorTypeDatabase, observability.StatusError
	}
}

func spanAttributes(args []any) map[string]string {
	attrs := make(map[string]string, len(args)/2)

	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}

		switch v := args[i+1].(type) {
		case string:
			attrs[key] = v
		case int:
			attrs[key] = strconv.Itoa(v)
		case int64:
			attrs[key] = strconv.FormatInt(v, 10)
		case uint64:
			attrs[key] = strconv.FormatUint(v, 10)
		}
	}

	return attrs
}

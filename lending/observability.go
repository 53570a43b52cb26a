package lending

import (
	"context"
	"errors"
	"time"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/observability"
)

const (
	metricDuration   = "lending_operation_duration_seconds"
	metricOperations = "lending_operations_total"
	metricRejections = "lending_rejections_total"

	spanPrefix = "lending."

	operationBorrow = "borrow"
	operationReturn = "return"

	labelReason = "reason"

	logMsgCompleted      = "lending operation completed: "
	logMsgRejected       = "lending operation rejected: "
	logMsgFailed         = "lending operation failed: "
	logMsgCommitRejected = "guarded commit rejected, re-reading to classify"

	logAttrBookID   = "book_id"
	logAttrMemberID = "member_id"
	logAttrRecordID = "record_id"
)

type operationObserver struct {
	observer  observability.Instrumentation
	ctx       context.Context
	operation string
	span      observability.SpanContext
	start     time.Time
	args      []any
}

func (sm *StateMachine) startOperation(
	ctx context.Context,
	operation string,
	bookID core.BookID,
	memberID core.MemberID,
) (*operationObserver, context.Context) {

	spanCtx, span := sm.observer.StartSpan(ctx, spanPrefix+operation, map[string]string{
		logAttrBookID:   bookID.String(),
		logAttrMemberID: memberID.String(),
	})

	return &operationObserver{
		observer:  sm.observer,
		ctx:       spanCtx,
		operation: operation,
		span:      span,
		start:     time.Now(),
		args:      []any{logAttrBookID, bookID.String(), logAttrMemberID, memberID.String()},
	}, spanCtx
}

func (o *operationObserver) succeed(args ...any) {
	duration := time.Since(o.start)
	labels := map[string]string{
		observability.LabelOperation: o.operation,
		observability.LabelStatus:    observability.StatusSuccess,
	}

	o.observer.RecordDuration(o.ctx, metricDuration, duration, labels)
	o.observer.IncrementCounter(o.ctx, metricOperations, labels)
	o.observer.Info(o.ctx, logMsgCompleted+o.operation,
		append(append([]any{observability.AttrDurationMS, observability.ToMilliseconds(duration)}, o.args...), args...)...,
	)
	o.observer.FinishSpan(o.span, observability.StatusSuccess, duration, nil)
}

func (o *operationObserver) fail(err error) {
	duration := time.Since(o.start)
	kind := core.ErrorKind(err)
	status := statusFor(err)
	labels := map[string]string{
		observability.LabelOperation: o.operation,
		observability.LabelStatus:    status,
		observability.LabelErrorType: kind,
	}

	o.observer.RecordDuration(o.ctx, metricDuration, duration, labels)
	o.observer.IncrementCounter(o.ctx, metricOperations, labels)

	args := append([]any{observability.AttrDurationMS, observability.ToMilliseconds(duration), labelReason, kind}, o.args...)

	switch status {
	case observability.StatusRejected, observability.StatusConflict:
		o.observer.IncrementCounter(o.ctx, metricRejections, map[string]string{
			observability.LabelOperation: o.operation,
			labelReason:                  kind,
		})
		o.observer.Info(o.ctx, logMsgRejected+o.operation, args...)
	default:
		o.observer.Error(o.ctx, logMsgFailed+o.operation, err, args...)
	}

	o.observer.FinishSpan(o.span, status, duration, map[string]string{observability.LabelErrorType: kind})
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.StatusCanceled
	case errors.Is(err, core.ErrConcurrentModification) && !isBusinessRejection(err):
		return observability.StatusConflict
	case isBusinessRejection(err), errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrValidation):
		return observability.StatusRejected
	default:
		return observability.StatusError
	}
}

func isBusinessRejection(err error) bool {
	return errors.Is(err, core.ErrAlreadyBorrowed) ||
		errors.Is(err, core.ErrNoCopiesAvailable) ||
		errors.Is(err, core.ErrNotCurrentlyBorrowed)
}

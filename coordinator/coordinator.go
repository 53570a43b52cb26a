// Package coordinator serializes borrow and return requests per book.
//
// Requests for the same book run one at a time; requests for different books run in parallel.
// The lock only lowers contention inside one process. Correctness comes from the guarded
// commit in the store, which also holds across processes.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/observability"
)

var ErrNilLender = errors.New("lender must not be nil")

// Lender executes the lending transitions, usually a *lending.StateMachine.
type Lender interface {
	RequestBorrow(ctx context.Context, bookID core.BookID, memberID core.MemberID) (core.BorrowRecord, error)
	ReturnBook(ctx context.Context, bookID core.BookID, memberID core.MemberID) (core.ReturnRecord, error)
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	lender   Lender
	mu       sync.Mutex
	locks    map[core.BookID]*bookLock
	observer observability.Instrumentation
}

// bookLock is dropped from the map when the last holder or waiter leaves.
type bookLock struct {
	sem  *semaphore.Weighted
	refs int
}

type Option func(*Coordinator) error

func WithLogger(logger observability.Logger) Option {
	return func(c *Coordinator) error {
		c.observer.Logger = logger
		return nil
	}
}

func WithContextualLogger(logger observability.ContextualLogger) Option {
	return func(c *Coordinator) error {
		c.observer.ContextualLogger = logger
		return nil
	}
}

func WithMetrics(collector observability.MetricsCollector) Option {
	return func(c *Coordinator) error {
		c.observer.Metrics = collector
		return nil
	}
}

func WithTracing(collector observability.TracingCollector) Option {
	return func(c *Coordinator) error {
		c.observer.Tracing = collector
		return nil
	}
}

func New(lender Lender, options ...Option) (*Coordinator, error) {
	if lender == nil {
		return nil, ErrNilLender
	}

	c := &Coordinator{
		lender: lender,
		locks:  make(map[core.BookID]*bookLock),
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Borrow waits for the book's lock and then runs the borrow transition.
// If ctx ends while waiting, nothing is written and ctx's error is returned.
func (c *Coordinator) Borrow(ctx context.Context, bookID core.BookID, memberID core.MemberID) (core.BorrowRecord, error) {
	observer, ctx := c.startRequest(ctx, requestBorrow, bookID)

	release, err := c.acquire(ctx, bookID)
	if err != nil {
		observer.fail(err)
		return core.BorrowRecord{}, err
	}
	defer release()

	observer.acquired()

	record, err := c.lender.RequestBorrow(ctx, bookID, memberID)
	if err != nil {
		observer.fail(err)
		return core.BorrowRecord{}, err
	}

	observer.succeed()

	return record, nil
}

// Return waits for the book's lock and then runs the return transition.
func (c *Coordinator) Return(ctx context.Context, bookID core.BookID, memberID core.MemberID) (core.ReturnRecord, error) {
	observer, ctx := c.startRequest(ctx, requestReturn, bookID)

	release, err := c.acquire(ctx, bookID)
	if err != nil {
		observer.fail(err)
		return core.ReturnRecord{}, err
	}
	defer release()

	observer.acquired()

	record, err := c.lender.ReturnBook(ctx, bookID, memberID)
	if err != nil {
		observer.fail(err)
		return core.ReturnRecord{}, err
	}

	observer.succeed()

	return record, nil
}

// ActiveLocks is the number of books with a holder or waiter.
func (c *Coordinator) ActiveLocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.locks)
}

func (c *Coordinator) acquire(ctx context.Context, bookID core.BookID) (func(), error) {
	c.mu.Lock()
	lock, ok := c.locks[bookID]
	if !ok {
		lock = &bookLock{sem: semaphore.NewWeighted(1)}
		c.locks[bookID] = lock
	}
	lock.refs++
	active := len(c.locks)
	c.mu.Unlock()

	c.observer.RecordValue(ctx, metricActiveLocks, float64(active), nil)

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		c.unref(bookID, lock)
		return nil, fmt.Errorf("waiting for book %s: %w", bookID, err)
	}

	return func() {
		lock.sem.Release(1)
		c.unref(bookID, lock)
	}, nil
}

func (c *Coordinator) unref(bookID core.BookID, lock *bookLock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(c.locks, bookID)
	}
}

/***** observability *****/

const (
	metricRequestDuration = "coordinator_request_duration_seconds"
	metricLockWait        = "coordinator_lock_wait_seconds"
	metricRequests        = "coordinator_requests_total"
	metricActiveLocks     = "coordinator_active_locks"

	spanPrefix = "coordinator."

	requestBorrow = "borrow"
	requestReturn = "return"

	logMsgLockAcquired    = "book lock acquired"
	logMsgLockWaitAborted = "gave up waiting for book lock"
	logAttrBookID         = "book_id"
	logAttrWaitMS         = "wait_ms"
)

type requestObserver struct {
	observer observability.Instrumentation
	ctx      context.Context
	request  string
	bookID   core.BookID
	span     observability.SpanContext
	start    time.Time
	locked   bool
}

func (c *Coordinator) startRequest(ctx context.Context, request string, bookID core.BookID) (*requestObserver, context.Context) {
	spanCtx, span := c.observer.StartSpan(ctx, spanPrefix+request, map[string]string{logAttrBookID: bookID.String()})

	return &requestObserver{
		observer: c.observer,
		ctx:      spanCtx,
		request:  request,
		bookID:   bookID,
		span:     span,
		start:    time.Now(),
	}, spanCtx
}

func (o *requestObserver) acquired() {
	wait := time.Since(o.start)
	o.locked = true

	o.observer.RecordDuration(o.ctx, metricLockWait, wait, map[string]string{observability.LabelOperation: o.request})
	o.observer.Debug(o.ctx, logMsgLockAcquired,
		logAttrBookID, o.bookID.String(),
		logAttrWaitMS, observability.ToMilliseconds(wait),
	)
}

func (o *requestObserver) succeed() {
	o.finish(observability.StatusSuccess, nil)
}

func (o *requestObserver) fail(err error) {
	status := observability.StatusRejected

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = observability.StatusCanceled
	case errors.Is(err, core.ErrUpstreamUnavailable):
		status = observability.StatusError
	case errors.Is(err, core.ErrConcurrentModification):
		status = observability.StatusConflict
	}

	if !o.locked {
		o.observer.Warn(o.ctx, logMsgLockWaitAborted,
			logAttrBookID, o.bookID.String(),
			observability.AttrError, err.Error(),
		)
	}

	o.finish(status, map[string]string{observability.LabelErrorType: core.ErrorKind(err)})
}

func (o *requestObserver) finish(status string, attrs map[string]string) {
	duration := time.Since(o.start)
	labels := map[string]string{
		observability.LabelOperation: o.request,
		observability.LabelStatus:    status,
	}

	o.observer.RecordDuration(o.ctx, metricRequestDuration, duration, labels)
	o.observer.IncrementCounter(o.ctx, metricRequests, labels)
	o.observer.FinishSpan(o.span, status, duration, attrs)
}

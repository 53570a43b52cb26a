package lending

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/internal/storeerr"
	"github.com/digilib/lendingledger/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNilBookReader   = errors.New("book reader must not be nil")
	ErrNilMemberReader = errors.New("member reader must not be nil")
	ErrNilCommitter    = errors.New("committer must not be nil")
	ErrNilClock        = errors.New("clock must not be nil")
)

// BookReader is the part of the catalog the state machine needs.
type BookReader interface {
	Get(ctx context.Context, bookID core.BookID) (core.Book, error)
}

// MemberReader is the part of the member directory the state machine needs.
type MemberReader interface {
	Get(ctx context.Context, memberID core.MemberID) (core.Member, error)
}

// Committer applies a batch of writes atomically.
type Committer interface {
	Commit(ctx context.Context, writes ...docstore.Write) ([]docstore.Document, error)
}

// StateMachine executes borrow and return requests. It is stateless and safe for concurrent use;
// all state lives in the store.
type StateMachine struct {
	books     BookReader
	members   MemberReader
	committer Committer
	now       func() time.Time
	observer  observability.Instrumentation
}

type Option func(*StateMachine) error

func WithClock(now func() time.Time) Option {
	return func(sm *StateMachine) error {
		if now == nil {
			return ErrNilClock
		}

		sm.now = now

		return nil
	}
}

func WithLogger(logger observability.Logger) Option {
	return func(sm *StateMachine) error {
		sm.observer.Logger = logger
		return nil
	}
}

func WithContextualLogger(logger observability.ContextualLogger) Option {
	return func(sm *StateMachine) error {
		sm.observer.ContextualLogger = logger
		return nil
	}
}

func WithMetrics(collector observability.MetricsCollector) Option {
	return func(sm *StateMachine) error {
		sm.observer.Metrics = collector
		return nil
	}
}

func WithTracing(collector observability.TracingCollector) Option {
	return func(sm *StateMachine) error {
		sm.observer.Tracing = collector
		return nil
	}
}

func New(books BookReader, members MemberReader, committer Committer, options ...Option) (*StateMachine, error) {
	if books == nil {
		return nil, ErrNilBookReader
	}

	if members == nil {
		return nil, ErrNilMemberReader
	}

	if committer == nil {
		return nil, ErrNilCommitter
	}

	sm := &StateMachine{
		books:     books,
		members:   members,
		committer: committer,
		now:       time.Now,
	}

	for _, option := range options {
		if err := option(sm); err != nil {
			return nil, err
		}
	}

	return sm, nil
}

// RequestBorrow lends one copy of the book to the member.
//
// Errors: core.ErrNotFound, core.ErrAlreadyBorrowed, core.ErrNoCopiesAvailable,
// core.ErrConcurrentModification, core.ErrUpstreamUnavailable.
func (sm *StateMachine) RequestBorrow(
	ctx context.Context,
	bookID core.BookID,
	memberID core.MemberID,
) (core.BorrowRecord, error) {

	observer, ctx := sm.startOperation(ctx, operationBorrow, bookID, memberID)
	command := BuildBorrowCommand(bookID, memberID, sm.now())

	decide := func(book core.Book, member core.Member) Decision[core.BorrowRecord] {
		return DecideBorrow(command, book, member)
	}

	record, recordID, err := execute(ctx, sm, bookID, memberID, CollectionBorrowRecords, decide)
	if err != nil {
		observer.fail(err)
		return core.BorrowRecord{}, err
	}

	record.ID = recordID
	observer.succeed(logAttrRecordID, recordID)

	return record, nil
}

// ReturnBook takes back the copy the member holds.
//
// Errors: core.ErrNotFound, core.ErrNotCurrentlyBorrowed, core.ErrConcurrentModification,
// core.ErrUpstreamUnavailable.
func (sm *StateMachine) ReturnBook(
	ctx context.Context,
	bookID core.BookID,
	memberID core.MemberID,
) (core.ReturnRecord, error) {

	observer, ctx := sm.startOperation(ctx, operationReturn, bookID, memberID)
	command := BuildReturnCommand(bookID, memberID, sm.now())

	decide := func(book core.Book, member core.Member) Decision[core.ReturnRecord] {
		return DecideReturn(command, book, member)
	}

	record, recordID, err := execute(ctx, sm, bookID, memberID, CollectionReturnRecords, decide)
	if err != nil {
		observer.fail(err)
		return core.ReturnRecord{}, err
	}

	record.ID = recordID
	observer.succeed(logAttrRecordID, recordID)

	return record, nil
}

// execute runs read -> decide -> commit once. On a rejected commit it reads again
// only to tell the caller why.
func execute[R any](
	ctx context.Context,
	sm *StateMachine,
	bookID core.BookID,
	memberID core.MemberID,
	recordCollection string,
	decide func(core.Book, core.Member) Decision[R],
) (R, string, error) {

	var zero R

	ctx = docstore.WithStrongConsistency(ctx)

	book, member, err := sm.read(ctx, bookID, memberID)
	if err != nil {
		return zero, "", err
	}

	decision := decide(book, member)
	if err := decision.Err(); err != nil {
		return zero, "", err
	}

	docs, err := sm.committer.Commit(ctx, decision.Writes()...)
	if err != nil {
		if !errors.Is(err, docstore.ErrPreconditionFailed) {
			return zero, "", storeerr.Translate(err)
		}

		return zero, "", sm.classifyRejection(ctx, bookID, memberID, err, func(b core.Book, m core.Member) error {
			return decide(b, m).Err()
		})
	}

	recordID := ""
	if last := docs[len(docs)-1]; last.Collection == recordCollection {
		recordID = last.ID
	}

	return decision.Record(), recordID, nil
}

func (sm *StateMachine) read(ctx context.Context, bookID core.BookID, memberID core.MemberID) (core.Book, core.Member, error) {
	book, err := sm.books.Get(ctx, bookID)
	if err != nil {
		return core.Book{}, core.Member{}, err
	}

	member, err := sm.members.Get(ctx, memberID)
	if err != nil {
		return core.Book{}, core.Member{}, err
	}

	return book, member, nil
}

// classifyRejection re-reads after a failed guard. If the fresh state explains the rejection
// with a business error, that error is returned; otherwise it was a plain race.
func (sm *StateMachine) classifyRejection(
	ctx context.Context,
	bookID core.BookID,
	memberID core.MemberID,
	commitErr error,
	decideErr func(core.Book, core.Member) error,
) error {

	sm.observer.Debug(ctx, logMsgCommitRejected, logAttrBookID, bookID.String(), logAttrMemberID, memberID.String())

	book, member, err := sm.read(ctx, bookID, memberID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}

		return storeerr.Translate(commitErr)
	}

	if err := decideErr(book, member); err != nil {
		return errors.Join(err, commitErr)
	}

	return storeerr.Translate(commitErr)
}

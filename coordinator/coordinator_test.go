package coordinator_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digilib/lendingledger/blobstore"
	"github.com/digilib/lendingledger/catalog"
	"github.com/digilib/lendingledger/coordinator"
	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore/memengine"
	"github.com/digilib/lendingledger/internal/testdoubles"
	"github.com/digilib/lendingledger/lending"
	"github.com/digilib/lendingledger/members"
)

// lenderSpy blocks every call until release is closed and tracks overlapping calls per book.
type lenderSpy struct {
	mu        sync.Mutex
	inFlight  map[core.BookID]int
	maxFlight map[core.BookID]int
	calls     atomic.Int32
	entered   chan core.BookID
	release   chan struct{}
	err       error
}

func newLenderSpy() *lenderSpy {
	return &lenderSpy{
		inFlight:  make(map[core.BookID]int),
		maxFlight: make(map[core.BookID]int),
		entered:   make(chan core.BookID, 64),
		release:   make(chan struct{}),
	}
}

func (s *lenderSpy) enter(bookID core.BookID) {
	s.calls.Add(1)

	s.mu.Lock()
	s.inFlight[bookID]++
	s.maxFlight[bookID] = max(s.maxFlight[bookID], s.inFlight[bookID])
	s.mu.Unlock()

	s.entered <- bookID
	<-s.release

	s.mu.Lock()
	s.inFlight[bookID]--
	s.mu.Unlock()
}

func (s *lenderSpy) RequestBorrow(_ context.Context, bookID core.BookID, memberID core.MemberID) (core.BorrowRecord, error) {
	s.enter(bookID)

	if s.err != nil {
		return core.BorrowRecord{}, s.err
	}

	return core.BorrowRecord{BookID: bookID, MemberID: memberID}, nil
}

func (s *lenderSpy) ReturnBook(_ context.Context, bookID core.BookID, memberID core.MemberID) (core.ReturnRecord, error) {
	s.enter(bookID)

	if s.err != nil {
		return core.ReturnRecord{}, s.err
	}

	return core.ReturnRecord{BookID: bookID, MemberID: memberID}, nil
}

func (s *lenderSpy) maxConcurrent(bookID core.BookID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxFlight[bookID]
}

func Test_New_RejectsNilLender(t *testing.T) {
	_, err := coordinator.New(nil)

	assert.ErrorIs(t, err, coordinator.ErrNilLender)
}

func Test_Borrow_SerializesRequestsForTheSameBook(t *testing.T) {
	// arrange
	spy := newLenderSpy()
	c, err := coordinator.New(spy)
	require.NoError(t, err)

	var wg sync.WaitGroup

	// act
	for _, memberID := range []core.MemberID{"m1", "m2", "m3"} {
		wg.Add(1)

		go func() {
			defer wg.Done()
			_, _ = c.Borrow(context.Background(), "b1", memberID)
		}()
	}

	for range 3 {
		<-spy.entered
		assert.Equal(t, 1, c.ActiveLocks())
		spy.release <- struct{}{}
	}

	wg.Wait()

	// assert
	assert.Equal(t, 1, spy.maxConcurrent("b1"))
	assert.Equal(t, int32(3), spy.calls.Load())
	assert.Equal(t, 0, c.ActiveLocks())
}

func Test_Borrow_RunsDifferentBooksInParallel(t *testing.T) {
	// arrange
	spy := newLenderSpy()
	c, err := coordinator.New(spy)
	require.NoError(t, err)

	var wg sync.WaitGroup

	// act
	for _, bookID := range []core.BookID{"b1", "b2"} {
		wg.Add(1)

		go func() {
			defer wg.Done()
			_, _ = c.Borrow(context.Background(), bookID, "m1")
		}()
	}

	// both calls are inside the lender at the same time
	<-spy.entered
	<-spy.entered
	assert.Equal(t, 2, c.ActiveLocks())

	close(spy.release)
	wg.Wait()

	// assert
	assert.Equal(t, 0, c.ActiveLocks())
}

func Test_Return_CanceledWhileWaiting_DoesNotReachTheLender(t *testing.T) {
	// arrange
	spy := newLenderSpy()
	c, err := coordinator.New(spy)
	require.NoError(t, err)

	holderDone := make(chan struct{})

	go func() {
		defer close(holderDone)
		_, _ = c.Borrow(context.Background(), "b1", "m1")
	}()

	<-spy.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// act
	_, err = c.Return(ctx, "b1", "m2")

	// assert
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), spy.calls.Load())

	close(spy.release)
	<-holderDone
	assert.Equal(t, 0, c.ActiveLocks())
}

func Test_Borrow_PassesLenderErrorsThrough(t *testing.T) {
	// arrange
	spy := newLenderSpy()
	spy.err = core.ErrNoCopiesAvailable
	close(spy.release)

	c, err := coordinator.New(spy)
	require.NoError(t, err)

	// act
	_, err = c.Borrow(context.Background(), "b1", "m1")

	// assert
	assert.ErrorIs(t, err, core.ErrNoCopiesAvailable)
	assert.Equal(t, 0, c.ActiveLocks())
}

func Test_Borrow_ConcurrentMembersAgainstStateMachine(t *testing.T) {
	// arrange
	store, err := memengine.NewStore()
	require.NoError(t, err)

	blobs, err := blobstore.NewMemoryStore("http://localhost:8080/blobs")
	require.NoError(t, err)

	books, err := catalog.New(store, blobs)
	require.NoError(t, err)

	directory, err := members.New(store)
	require.NoError(t, err)

	machine, err := lending.New(books, directory, store)
	require.NoError(t, err)

	c, err := coordinator.New(machine)
	require.NoError(t, err)

	ctx := context.Background()
	book, err := books.Create(ctx, core.BuildBookDraft(
		"Dune",
		"Desert planet",
		3,
		core.RoleAdmin,
		core.Attachment{Content: strings.NewReader("cover"), ContentType: "image/png"},
		core.Attachment{Content: strings.NewReader("%PDF"), ContentType: "application/pdf"},
	))
	require.NoError(t, err)

	memberIDs := make([]core.MemberID, 20)
	for i := range memberIDs {
		memberIDs[i] = core.MemberID("m" + string(rune('a'+i)))
		_, err := directory.Register(ctx, core.MemberRegistration{
			ID:          memberIDs[i],
			Role:        core.RoleUser,
			DisplayName: "Reader",
			Email:       memberIDs[i].String() + "@library.test",
		})
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		noCopies  atomic.Int32
	)

	// act
	for _, memberID := range memberIDs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := c.Borrow(ctx, book.ID, memberID)

			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, core.ErrNoCopiesAvailable):
				noCopies.Add(1)
			}
		}()
	}

	wg.Wait()

	// assert
	assert.Equal(t, int32(3), succeeded.Load())
	assert.Equal(t, int32(17), noCopies.Load())

	final, err := books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, final.AvailableCopies)
	assert.Len(t, final.CurrentReaders, 3)
}

func Test_Borrow_Observability(t *testing.T) {
	// arrange
	spy := newLenderSpy()
	spy.err = core.ErrAlreadyBorrowed
	close(spy.release)

	logs := testdoubles.NewLogHandlerSpy(false)
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()

	c, err := coordinator.New(spy,
		coordinator.WithLogger(slog.New(logs)),
		coordinator.WithMetrics(metrics),
		coordinator.WithTracing(tracing),
	)
	require.NoError(t, err)

	// act
	_, err = c.Borrow(context.Background(), "b1", "m1")
	require.Error(t, err)

	// assert
	assert.True(t, logs.HasLog(slog.LevelDebug, "book lock acquired").WithAttrValue("book_id", "b1").Assert())
	assert.True(t, metrics.HasDuration("coordinator_lock_wait_seconds", map[string]string{"operation": "borrow"}))
	assert.Equal(t, 1, metrics.CounterCount("coordinator_requests_total", map[string]string{
		"operation": "borrow",
		"status":    "rejected",
	}))
	assert.Equal(t, []float64{1}, metrics.Values("coordinator_active_locks"))

	spans := tracing.Spans("coordinator.borrow")
	require.Len(t, spans, 1)
	assert.Equal(t, "rejected", spans[0].Status)
	assert.Equal(t, "already_borrowed", spans[0].EndAttrs["error_type"])
}

package catalog_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digilib/lendingledger/blobstore"
	"github.com/digilib/lendingledger/catalog"
	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/docstore/memengine"
	"github.com/digilib/lendingledger/internal/testdoubles"
)

var fakeClock = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

type failingBlobStore struct {
	err error
}

func (f failingBlobStore) Upload(context.Context, io.Reader, string) (string, error) {
	return "", f.err
}

func (f failingBlobStore) Delete(context.Context, string) error {
	return f.err
}

func givenCatalog(t *testing.T) (*catalog.Catalog, *blobstore.MemoryStore) {
	t.Helper()

	store, err := memengine.NewStore()
	require.NoError(t, err)

	blobs, err := blobstore.NewMemoryStore("http://localhost:8080/blobs")
	require.NoError(t, err)

	c, err := catalog.New(store, blobs, catalog.WithClock(func() time.Time { return fakeClock }))
	require.NoError(t, err)

	return c, blobs
}

func givenDraft(title string, copies int) core.BookDraft {
	return core.BuildBookDraft(
		title,
		"A novel about spice",
		copies,
		core.RoleAdmin,
		core.Attachment{Content: strings.NewReader("cover"), ContentType: "image/jpeg"},
		core.Attachment{Content: strings.NewReader("%PDF"), ContentType: "application/pdf"},
	)
}

func givenBook(t *testing.T, c *catalog.Catalog, title string, copies int) core.Book {
	t.Helper()

	book, err := c.Create(context.Background(), givenDraft(title, copies))
	require.NoError(t, err, "error in arranging test data")

	return book
}

func borrowBy(memberID core.MemberID) docstore.Mutation {
	return docstore.BuildMutation().
		Increment(core.BookFieldAvailableCopies, -1).
		AddToSet(core.BookFieldCurrentReaders, memberID.String()).
		Guarded(
			docstore.AtLeast(core.BookFieldAvailableCopies, 1),
			docstore.NotContains(core.BookFieldCurrentReaders, memberID.String()),
		).
		Finalize()
}

func collect(t *testing.T, seq iter.Seq2[core.Book, error]) []core.Book {
	t.Helper()

	var books []core.Book
	for book, err := range seq {
		require.NoError(t, err)
		books = append(books, book)
	}

	return books
}

func Test_New_RejectsMissingCollaborators(t *testing.T) {
	store, err := memengine.NewStore()
	require.NoError(t, err)

	_, err = catalog.New(nil, blobstore.Store(nil))
	assert.ErrorIs(t, err, catalog.ErrNilDocumentStore)

	_, err = catalog.New(store, nil)
	assert.ErrorIs(t, err, catalog.ErrNilBlobStore)

	blobs, err := blobstore.NewMemoryStore("http://blobs")
	require.NoError(t, err)

	_, err = catalog.New(store, blobs, catalog.WithClock(nil))
	assert.ErrorIs(t, err, catalog.ErrNilClock)
}

func Test_Create_InitializesLendingState(t *testing.T) {
	// arrange
	c, blobs := givenCatalog(t)

	// act
	book, err := c.Create(context.Background(), givenDraft("Dune", 3))

	// assert
	require.NoError(t, err)
	assert.NotEmpty(t, book.ID)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)
	assert.Empty(t, book.CurrentReaders)
	assert.False(t, book.IsReturned)
	assert.Equal(t, core.RoleAdmin, book.UploaderRole)
	assert.Equal(t, core.ToTimestamp(fakeClock), book.CreatedAt)
	assert.NoError(t, book.CheckInvariants())

	cover, err := blobs.Get(book.CoverURL)
	require.NoError(t, err)
	assert.Equal(t, "cover", string(cover.Content))

	document, err := blobs.Get(book.DocumentURL)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(document.Content))
}

func Test_Create_ValidationFailures(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*core.BookDraft)
		wantMsg string
	}{
		{name: "empty title", mutate: func(d *core.BookDraft) { d.Title = "" }, wantMsg: "title"},
		{name: "zero copies", mutate: func(d *core.BookDraft) { d.TotalCopies = 0 }, wantMsg: "total copies"},
		{name: "not admin", mutate: func(d *core.BookDraft) { d.UploaderRole = core.RoleUser }, wantMsg: "only admins"},
		{
			name:    "unsupported cover",
			mutate:  func(d *core.BookDraft) { d.Cover.ContentType = "text/html" },
			wantMsg: "cover",
		},
		{
			name:    "unsupported document after cover upload",
			mutate:  func(d *core.BookDraft) { d.Document.ContentType = "text/html" },
			wantMsg: "document",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			c, blobs := givenCatalog(t)
			draft := givenDraft("Dune", 1)
			tc.mutate(&draft)

			// act
			_, err := c.Create(context.Background(), draft)

			// assert
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.ErrorContains(t, err, tc.wantMsg)
			assert.Zero(t, blobs.Len())
		})
	}
}

func Test_Create_BlobFailureIsUpstream(t *testing.T) {
	store, err := memengine.NewStore()
	require.NoError(t, err)

	c, err := catalog.New(store, failingBlobStore{err: errors.Join(blobstore.ErrUploadFailed, errors.New("disk full"))})
	require.NoError(t, err)

	_, err = c.Create(context.Background(), givenDraft("Dune", 1))

	assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, blobstore.ErrUploadFailed)
}

func Test_Create_StoreFailureIsUpstream(t *testing.T) {
	// arrange
	inner, err := memengine.NewStore()
	require.NoError(t, err)

	flaky := testdoubles.NewFlakyStore(inner)
	flaky.FailNext(testdoubles.OpCreate, docstore.ErrUpstreamUnavailable)

	blobs, err := blobstore.NewMemoryStore("http://blobs")
	require.NoError(t, err)

	c, err := catalog.New(flaky, blobs)
	require.NoError(t, err)

	// act
	_, err = c.Create(context.Background(), givenDraft("Dune", 1))

	// assert
	assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.Zero(t, blobs.Len(), "blobs of a book that was not stored must be removed")
}

func Test_Get(t *testing.T) {
	c, _ := givenCatalog(t)
	created := givenBook(t, c, "Dune", 2)

	book, err := c.Get(context.Background(), created.ID)

	require.NoError(t, err)
	assert.Equal(t, created, book)
}

func Test_Get_NotFound(t *testing.T) {
	c, _ := givenCatalog(t)

	_, err := c.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, core.ErrNotFound)
}

func Test_ApplyMutation(t *testing.T) {
	// arrange
	c, _ := givenCatalog(t)
	created := givenBook(t, c, "Dune", 1)

	// act
	book, err := c.ApplyMutation(context.Background(), created.ID, borrowBy("m1"))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 0, book.AvailableCopies)
	assert.Equal(t, []core.MemberID{"m1"}, book.CurrentReaders)
	assert.Greater(t, book.Version, created.Version)
	assert.NoError(t, book.CheckInvariants())
}

func Test_ApplyMutation_FailedGuardIsConcurrentModification(t *testing.T) {
	// arrange
	c, _ := givenCatalog(t)
	created := givenBook(t, c, "Dune", 1)
	ctx := context.Background()

	_, err := c.ApplyMutation(ctx, created.ID, borrowBy("m1"))
	require.NoError(t, err)

	// act
	_, err = c.ApplyMutation(ctx, created.ID, borrowBy("m2"))

	// assert
	assert.ErrorIs(t, err, core.ErrConcurrentModification)

	book, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.MemberID{"m1"}, book.CurrentReaders)
}

func Test_ApplyMutation_NotFound(t *testing.T) {
	c, _ := givenCatalog(t)

	_, err := c.ApplyMutation(context.Background(), "missing", borrowBy("m1"))

	assert.ErrorIs(t, err, core.ErrNotFound)
}

func Test_List_Filters(t *testing.T) {
	// arrange
	c, _ := givenCatalog(t)
	ctx := context.Background()

	dune := givenBook(t, c, "Dune", 2)
	emma := givenBook(t, c, "Emma", 1)
	ulysses := givenBook(t, c, "Ulysses", 1)

	_, err := c.ApplyMutation(ctx, dune.ID, borrowBy("m1"))
	require.NoError(t, err)
	_, err = c.ApplyMutation(ctx, ulysses.ID, borrowBy("m2"))
	require.NoError(t, err)
	_, err = c.ApplyMutation(ctx, emma.ID, docstore.BuildMutation().Set(core.BookFieldIsReturned, true).Finalize())
	require.NoError(t, err)

	titles := func(books []core.Book) []string {
		var out []string
		for _, b := range books {
			out = append(out, b.Title)
		}

		return out
	}

	// act + assert
	assert.Equal(t, []string{"Dune", "Emma", "Ulysses"}, titles(collect(t, c.List(ctx))))
	assert.Equal(t, []string{"Dune"}, titles(collect(t, c.List(ctx, catalog.ReadBy("m1")))))
	assert.Equal(t, []string{"Emma"}, titles(collect(t, c.List(ctx, catalog.WithReturnedStatus(true)))))
	assert.Equal(t, []string{"Dune", "Ulysses"}, titles(collect(t, c.List(ctx, catalog.CurrentlyLent()))))
	assert.Equal(t, []string{"Ulysses"}, titles(collect(t, c.List(ctx,
		catalog.CurrentlyLent(),
		catalog.ReadBy("m2"),
		catalog.WithReturnedStatus(false),
	))))
}

func Test_List_IsOneShot(t *testing.T) {
	c, _ := givenCatalog(t)
	givenBook(t, c, "Dune", 1)

	seq := c.List(context.Background())
	assert.Len(t, collect(t, seq), 1)

	for _, err := range seq {
		assert.ErrorIs(t, err, docstore.ErrSequenceConsumed)
	}

	assert.Len(t, collect(t, c.List(context.Background())), 1)
}

func Test_List_TranslatesStoreErrors(t *testing.T) {
	inner, err := memengine.NewStore()
	require.NoError(t, err)

	flaky := testdoubles.NewFlakyStore(inner)
	flaky.FailNext(testdoubles.OpQuery, docstore.ErrUpstreamUnavailable)

	blobs, err := blobstore.NewMemoryStore("http://blobs")
	require.NoError(t, err)

	c, err := catalog.New(flaky, blobs)
	require.NoError(t, err)

	for _, err := range c.List(context.Background()) {
		assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	}
}

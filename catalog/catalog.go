// Package catalog owns the canonical Book records.
//
// Books live as JSON documents in the "books" collection of a docstore.Store.
// The catalog validates and creates them, reads them back and forwards atomic field-level
// mutations to the store. It knows nothing about lending rules; those live in package lending.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/digilib/lendingledger/blobstore"
	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/internal/storeerr"
	"github.com/digilib/lendingledger/observability"
)

// CollectionBooks is the document collection holding the books.
const CollectionBooks = "books"

const (
	logMsgBookCreated = "book created"
	logMsgBlobUpload  = "uploading blob failed"
	logMsgBlobCleanup = "removing orphaned blob failed"

	logAttrBookID      = "book_id"
	logAttrTotalCopies = "total_copies"
	logAttrBlobKind    = "blob"
	logAttrBlobURL     = "blob_url"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNilDocumentStore = errors.New("document store must not be nil")
	ErrNilBlobStore     = errors.New("blob store must not be nil")
	ErrNilClock         = errors.New("clock must not be nil")
)

// Catalog is safe for concurrent use.
type Catalog struct {
	store    docstore.Store
	blobs    blobstore.Store
	now      func() time.Time
	observer observability.Instrumentation
}

// Option defines a functional option for configuring a Catalog.
type Option func(*Catalog) error

// WithClock replaces time.Now for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) error {
		if now == nil {
			return ErrNilClock
		}

		c.now = now

		return nil
	}
}

// WithLogger sets the logger for the Catalog.
func WithLogger(logger observability.Logger) Option {
	return func(c *Catalog) error {
		c.observer.Logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the Catalog.
func WithContextualLogger(logger observability.ContextualLogger) Option {
	return func(c *Catalog) error {
		c.observer.ContextualLogger = logger
		return nil
	}
}

func New(store docstore.Store, blobs blobstore.Store, options ...Option) (*Catalog, error) {
	if store == nil {
		return nil, ErrNilDocumentStore
	}

	if blobs == nil {
		return nil, ErrNilBlobStore
	}

	c := &Catalog{
		store: store,
		blobs: blobs,
		now:   time.Now,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Get returns the book or core.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, bookID core.BookID) (core.Book, error) {
	doc, err := c.store.Get(ctx, CollectionBooks, bookID.String())
	if err != nil {
		return core.Book{}, storeerr.Translate(err)
	}

	return BookFromDocument(doc)
}

// List lazily yields the books matching all filters, in creation order.
// The sequence is one-shot; call List again for a fresh snapshot.
func (c *Catalog) List(ctx context.Context, filters ...ListFilter) iter.Seq2[core.Book, error] {
	filter, keep := combine(filters)

	return docstore.OneShot(func(yield func(core.Book, error) bool) {
		for doc, err := range c.store.Query(ctx, CollectionBooks, filter) {
			if err != nil {
				yield(core.Book{}, storeerr.Translate(err))
				return
			}

			book, err := BookFromDocument(doc)
			if err != nil {
				yield(core.Book{}, err)
				return
			}

			if !keep(book) {
				continue
			}

			if !yield(book, nil) {
				return
			}
		}
	})
}

// Create validates the draft, uploads cover and document, and stores the new book
// with every copy available. Blobs already uploaded are deleted again when a later step fails.
func (c *Catalog) Create(ctx context.Context, draft core.BookDraft) (core.Book, error) {
	if err := draft.Validate(); err != nil {
		return core.Book{}, err
	}

	coverURL, err := c.upload(ctx, "cover", draft.Cover)
	if err != nil {
		return core.Book{}, err
	}

	documentURL, err := c.upload(ctx, "document", draft.Document)
	if err != nil {
		c.discard(ctx, coverURL)
		return core.Book{}, err
	}

	book := core.Book{
		Title:           draft.Title,
		Description:     draft.Description,
		CoverURL:        coverURL,
		DocumentURL:     documentURL,
		UploaderRole:    draft.UploaderRole,
		TotalCopies:     draft.TotalCopies,
		AvailableCopies: draft.TotalCopies,
		CurrentReaders:  []core.MemberID{},
		IsReturned:      false,
		CreatedAt:       core.ToTimestamp(c.now()),
	}

	body, err := json.Marshal(book)
	if err != nil {
		c.discard(ctx, coverURL, documentURL)
		return core.Book{}, fmt.Errorf("encoding book: %w", err)
	}

	doc, err := c.store.Create(ctx, CollectionBooks, "", body)
	if err != nil {
		c.discard(ctx, coverURL, documentURL)
		return core.Book{}, storeerr.Translate(err)
	}

	created, err := BookFromDocument(doc)
	if err != nil {
		return core.Book{}, err
	}

	c.observer.Info(ctx, logMsgBookCreated, logAttrBookID, created.ID.String(), logAttrTotalCopies, created.TotalCopies)

	return created, nil
}

// ApplyMutation forwards an atomic field-level update to the store.
// A guard or expected version that does not hold yields core.ErrConcurrentModification.
func (c *Catalog) ApplyMutation(ctx context.Context, bookID core.BookID, mutation docstore.Mutation) (core.Book, error) {
	doc, err := c.store.Update(ctx, CollectionBooks, bookID.String(), mutation)
	if err != nil {
		return core.Book{}, storeerr.Translate(err)
	}

	return BookFromDocument(doc)
}

// UpdateWrite wraps a book mutation for use in a docstore Commit.
func UpdateWrite(bookID core.BookID, mutation docstore.Mutation) docstore.Write {
	return docstore.UpdateWrite(CollectionBooks, bookID.String(), mutation)
}

// BookFromDocument decodes a stored book.
func BookFromDocument(doc docstore.Document) (core.Book, error) {
	var book core.Book

	if err := json.Unmarshal(doc.Body, &book); err != nil {
		return core.Book{}, errors.Join(core.ErrUpstreamUnavailable, fmt.Errorf("decoding book %s: %w", doc.ID, err))
	}

	book.ID = core.BookID(doc.ID)
	book.Version = doc.Version
	book.CreatedAt = core.ToTimestamp(book.CreatedAt)

	if book.CurrentReaders == nil {
		book.CurrentReaders = []core.MemberID{}
	}

	return book, nil
}

// discard deletes blobs of a book that was not stored. It outlives a canceled ctx.
func (c *Catalog) discard(ctx context.Context, urls ...string) {
	ctx = context.WithoutCancel(ctx)

	for _, url := range urls {
		if err := c.blobs.Delete(ctx, url); err != nil {
			c.observer.Warn(ctx, logMsgBlobCleanup, logAttrBlobURL, url, observability.AttrError, err.Error())
		}
	}
}

func (c *Catalog) upload(ctx context.Context, kind string, attachment core.Attachment) (string, error) {
	url, err := c.blobs.Upload(ctx, attachment.Content, attachment.ContentType)
	if err == nil {
		return url, nil
	}

	switch {
	case errors.Is(err, blobstore.ErrEmptyContentType), errors.Is(err, blobstore.ErrUnsupportedContent):
		return "", errors.Join(core.ErrValidation, fmt.Errorf("%s: %w", kind, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", err
	default:
		c.observer.Error(ctx, logMsgBlobUpload, err, logAttrBlobKind, kind)
		return "", errors.Join(core.ErrUpstreamUnavailable, fmt.Errorf("%s: %w", kind, err))
	}
}

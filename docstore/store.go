package docstore

import (
	"context"
	"iter"
	"sync/atomic"
)

// Store is the contract every engine implements.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection string, id string) (Document, error)

	// Query lazily yields the matching documents ordered by creation time.
	// The sequence is one-shot: ranging over it a second time yields ErrSequenceConsumed.
	Query(ctx context.Context, collection string, filter Filter) iter.Seq2[Document, error]

	// Create inserts a JSON object. An empty id makes the store assign one.
	Create(ctx context.Context, collection string, id string, body []byte) (Document, error)

	// Update applies the mutation atomically and returns the new document state.
	Update(ctx context.Context, collection string, id string, mutation Mutation) (Document, error)

	// Commit applies all writes atomically, in order. Either every write succeeds
	// or none is visible. The returned documents are in write order.
	Commit(ctx context.Context, writes ...Write) ([]Document, error)

	// Delete removes the document only while it still has expectedVersion.
	// A missing document is ErrNotFound, a newer version is ErrPreconditionFailed.
	Delete(ctx context.Context, collection string, id string, expectedVersion uint64) error
}

/***** Write *****/

type WriteKind int

const (
	WriteUpdate WriteKind = iota + 1
	WriteCreate
)

// Write is one element of a Commit.
type Write struct {
	kind       WriteKind
	collection string
	id         string
	mutation   Mutation
	body       []byte
}

// UpdateWrite builds a Write applying mutation to an existing document.
func UpdateWrite(collection string, id string, mutation Mutation) Write {
	return Write{kind: WriteUpdate, collection: collection, id: id, mutation: mutation}
}

// CreateWrite builds a Write inserting body. An empty id makes the store assign one.
func CreateWrite(collection string, id string, body []byte) Write {
	return Write{kind: WriteCreate, collection: collection, id: id, body: body}
}

func (w Write) Kind() WriteKind {
	return w.kind
}

func (w Write) Collection() string {
	return w.collection
}

func (w Write) ID() string {
	return w.id
}

func (w Write) Mutation() Mutation {
	return w.mutation
}

func (w Write) Body() []byte {
	return w.body
}

/***** one-shot sequences *****/

// OneShot wraps seq so that only the first range over it produces values.
// Later ranges yield a single ErrSequenceConsumed.
func OneShot[T any](seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	var consumed atomic.Bool

	return func(yield func(T, error) bool) {
		if consumed.Swap(true) {
			var zero T
			yield(zero, ErrSequenceConsumed)

			return
		}

		seq(yield)
	}
}

// Failed returns a sequence that yields only err.
func Failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Package memengine is an in-process docstore.Store backed by maps guarded by a single RWMutex.
// It gives the same atomicity guarantees as the PostgreSQL engine and is used for tests,
// the simulate command and single-node deployments.
package memengine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/digilib/lendingledger/docstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type entry struct {
	doc docstore.Document
	seq uint64
}

type docKey struct {
	collection string
	id         string
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
	seq         uint64
	now         func() time.Time
	newID       func() string
}

// Option defines a functional option for configuring a Store.
type Option func(*Store) error

// WithClock sets the clock used for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}

		s.now = now

		return nil
	}
}

// WithIDGenerator sets the generator for store-assigned document IDs.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) error {
		if newID == nil {
			return errors.New("id generator must not be nil")
		}

		s.newID = newID

		return nil
	}
}

// NewStore creates an empty Store.
func NewStore(options ...Option) (*Store, error) {
	s := &Store{
		collections: make(map[string]map[string]entry),
		now:         time.Now,
		newID:       uuid.NewString,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) Get(ctx context.Context, collection string, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}

	if collection == "" {
		return docstore.Document{}, docstore.ErrEmptyCollection
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.collections[collection][id]
	if !ok {
		return docstore.Document{}, errors.Join(docstore.ErrNotFound, fmt.Errorf("%s/%s", collection, id))
	}

	return cloneDocument(e.doc), nil
}

// Query takes a snapshot of the matching documents when iteration starts and yields them
// in insertion order.
func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) iter.Seq2[docstore.Document, error] {
	if collection == "" {
		return docstore.Failed[docstore.Document](docstore.ErrEmptyCollection)
	}

	if err := filter.Validate(); err != nil {
		return docstore.Failed[docstore.Document](err)
	}

	return docstore.OneShot(func(yield func(docstore.Document, error) bool) {
		snapshot, err := s.snapshot(collection, filter)
		if err != nil {
			yield(docstore.Document{}, err)
			return
		}

		for _, doc := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(docstore.Document{}, err)
				return
			}

			if !yield(doc, nil) {
				return
			}
		}
	})
}

func (s *Store) Create(ctx context.Context, collection string, id string, body []byte) (docstore.Document, error) {
	docs, err := s.Commit(ctx, docstore.CreateWrite(collection, id, body))
	if err != nil {
		return docstore.Document{}, err
	}

	return docs[0], nil
}

func (s *Store) Update(
	ctx context.Context,
	collection string,
	id string,
	mutation docstore.Mutation,
) (docstore.Document, error) {

	docs, err := s.Commit(ctx, docstore.UpdateWrite(collection, id, mutation))
	if err != nil {
		return docstore.Document{}, err
	}

	return docs[0], nil
}

// Commit stages every write against a private overlay and publishes the overlay only
// when all writes succeeded.
func (s *Store) Commit(ctx context.Context, writes ...docstore.Write) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(writes) == 0 {
		return nil, docstore.ErrEmptyCommit
	}

	for _, w := range writes {
		if w.Collection() == "" {
			return nil, docstore.ErrEmptyCollection
		}

		if w.Kind() == docstore.WriteUpdate {
			if err := w.Mutation().Validate(); err != nil {
				return nil, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[docKey]entry, len(writes))
	order := make([]docKey, 0, len(writes))
	results := make([]docstore.Document, 0, len(writes))
	now := s.now().UTC()
	seq := s.seq

	lookup := func(key docKey) (entry, bool) {
		if e, ok := staged[key]; ok {
			return e, true
		}

		e, ok := s.collections[key.collection][key.id]

		return e, ok
	}

	for _, w := range writes {
		var (
			next entry
			key  docKey
		)

		switch w.Kind() {
		case docstore.WriteCreate:
			id := w.ID()
			if id == "" {
				id = s.newID()
			}

			key = docKey{collection: w.Collection(), id: id}
			if _, exists := lookup(key); exists {
				return nil, errors.Join(docstore.ErrAlreadyExists, fmt.Errorf("%s/%s", key.collection, key.id))
			}

			if _, err := decodeBody(w.Body()); err != nil {
				return nil, err
			}

			seq++
			next = entry{
				seq: seq,
				doc: docstore.Document{
					Collection: key.collection,
					ID:         key.id,
					Version:    1,
					Body:       slices.Clone(w.Body()),
					CreatedAt:  now,
					UpdatedAt:  now,
				},
			}

		case docstore.WriteUpdate:
			key = docKey{collection: w.Collection(), id: w.ID()}
			current, exists := lookup(key)
			if !exists {
				return nil, errors.Join(docstore.ErrNotFound, fmt.Errorf("%s/%s", key.collection, key.id))
			}

			body, err := applyMutation(current.doc, w.Mutation())
			if err != nil {
				return nil, err
			}

			next = current
			next.doc.Body = body
			next.doc.Version++
			next.doc.UpdatedAt = now

		default:
			return nil, fmt.Errorf("unknown write kind %d", w.Kind())
		}

		if _, seen := staged[key]; !seen {
			order = append(order, key)
		}

		staged[key] = next
		results = append(results, cloneDocument(next.doc))
	}

	for _, key := range order {
		if s.collections[key.collection] == nil {
			s.collections[key.collection] = make(map[string]entry)
		}

		s.collections[key.collection][key.id] = staged[key]
	}

	s.seq = seq

	return results, nil
}

func (s *Store) Delete(ctx context.Context, collection string, id string, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if collection == "" {
		return docstore.ErrEmptyCollection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collection][id]
	if !ok {
		return errors.Join(docstore.ErrNotFound, fmt.Errorf("%s/%s", collection, id))
	}

	if e.doc.Version != expectedVersion {
		return errors.Join(
			docstore.ErrPreconditionFailed,
			fmt.Errorf("%s/%s is at version %d, expected %d", collection, id, e.doc.Version, expectedVersion),
		)
	}

	delete(s.collections[collection], id)

	return nil
}

func (s *Store) snapshot(collection string, filter docstore.Filter) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := slices.Collect(maps.Values(s.collections[collection]))
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	matching := make([]docstore.Document, 0, len(entries))

	for _, e := range entries {
		fields, err := decodeBody(e.doc.Body)
		if err != nil {
			return nil, err
		}

		if matches(fields, filter) {
			matching = append(matching, cloneDocument(e.doc))
		}
	}

	return matching, nil
}

func cloneDocument(doc docstore.Document) docstore.Document {
	doc.Body = slices.Clone(doc.Body)

	return doc
}

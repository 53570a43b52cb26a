package testdoubles

import (
	"context"
	"iter"
	"sync"

	"github.com/digilib/lendingledger/docstore"
)

const (
	OpGet    = "get"
	OpQuery  = "query"
	OpCreate = "create"
	OpUpdate = "update"
	OpCommit = "commit"
)

// FlakyStore wraps a docstore.Store and injects failures or interleaved writes.
type FlakyStore struct {
	docstore.Store

	mu           sync.Mutex
	nextFailures map[string]error
	failures     map[string]error
	beforeCommit []func(ctx context.Context)
	calls        map[string]int
}

func NewFlakyStore(inner docstore.Store) *FlakyStore {
	return &FlakyStore{
		Store:        inner,
		nextFailures: make(map[string]error),
		failures:     make(map[string]error),
		calls:        make(map[string]int),
	}
}

// FailNext makes the next call of op return err.
func (f *FlakyStore) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextFailures[op] = err
}

// FailAlways makes every call of op return err until Heal is called.
func (f *FlakyStore) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[op] = err
}

func (f *FlakyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.nextFailures)
	clear(f.failures)
}

// BeforeNextCommit runs hook once, right before the next Commit reaches the wrapped store.
func (f *FlakyStore) BeforeNextCommit(hook func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.beforeCommit = append(f.beforeCommit, hook)
}

// Calls returns how often op was invoked.
func (f *FlakyStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *FlakyStore) Get(ctx context.Context, collection string, id string) (docstore.Document, error) {
	if err := f.enter(OpGet); err != nil {
		return docstore.Document{}, err
	}

	return f.Store.Get(ctx, collection, id)
}

func (f *FlakyStore) Query(ctx context.Context, collection string, filter docstore.Filter) iter.Seq2[docstore.Document, error] {
	if err := f.enter(OpQuery); err != nil {
		return docstore.Failed[docstore.Document](err)
	}

	return f.Store.Query(ctx, collection, filter)
}

func (f *FlakyStore) Create(ctx context.Context, collection string, id string, body []byte) (docstore.Document, error) {
	if err := f.enter(OpCreate); err != nil {
		return docstore.Document{}, err
	}

	return f.Store.Create(ctx, collection, id, body)
}

func (f *FlakyStore) Update(
	ctx context.Context,
	collection string,
	id string,
	mutation docstore.Mutation,
) (docstore.Document, error) {

	if err := f.enter(OpUpdate); err != nil {
		return docstore.Document{}, err
	}

	return f.Store.Update(ctx, collection, id, mutation)
}

func (f *FlakyStore) Commit(ctx context.Context, writes ...docstore.Write) ([]docstore.Document, error) {
	if err := f.enter(OpCommit); err != nil {
		return nil, err
	}

	f.mu.Lock()
	hooks := f.beforeCommit
	f.beforeCommit = nil
	f.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx)
	}

	return f.Store.Commit(ctx, writes...)
}

func (f *FlakyStore) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	if err, ok := f.nextFailures[op]; ok {
		delete(f.nextFailures, op)
		return err
	}

	return f.failures[op]
}

var _ docstore.Store = (*FlakyStore)(nil)

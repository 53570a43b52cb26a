package catalog

import (
	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore"
)

// ListFilter narrows Catalog.List. Filters are AND-combined.
type ListFilter struct {
	predicate *docstore.FilterPredicate
	keep      func(core.Book) bool
}

// ReadBy matches books the member currently holds a copy of.
func ReadBy(memberID core.MemberID) ListFilter {
	p := docstore.ArrayContains(core.BookFieldCurrentReaders, memberID.String())
	return ListFilter{predicate: &p}
}

// WithReturnedStatus matches books by the library-wide returned marker.
func WithReturnedStatus(returned bool) ListFilter {
	p := docstore.FieldEquals(core.BookFieldIsReturned, returned)
	return ListFilter{predicate: &p}
}

// CurrentlyLent matches books with at least one copy checked out.
// The store cannot express this, so it is applied while iterating.
func CurrentlyLent() ListFilter {
	return ListFilter{keep: func(b core.Book) bool { return b.CheckedOut() > 0 }}
}

func combine(filters []ListFilter) (docstore.Filter, func(core.Book) bool) {
	var (
		predicates []docstore.FilterPredicate
		keeps      []func(core.Book) bool
	)

	for _, f := range filters {
		if f.predicate != nil {
			predicates = append(predicates, *f.predicate)
		}

		if f.keep != nil {
			keeps = append(keeps, f.keep)
		}
	}

	keep := func(b core.Book) bool {
		for _, k := range keeps {
			if !k(b) {
				return false
			}
		}

		return true
	}

	if len(predicates) == 0 {
		return docstore.BuildFilter().MatchingAll(), keep
	}

	return docstore.BuildFilter().Where(predicates[0], predicates[1:]...).Finalize(), keep
}

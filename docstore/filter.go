package docstore

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

type FilterKeyString = string

/***** Filter *****/

// Filter selects documents of one collection. All predicates must match (AND).
// An empty Filter matches every document.
type Filter struct {
	predicates []FilterPredicate
}

func (f Filter) Predicates() []FilterPredicate {
	return f.predicates
}

// Validate checks that every predicate addresses a valid field with a scalar value.
func (f Filter) Validate() error {
	for _, p := range f.predicates {
		if !ValidFieldName(p.key) {
			return errors.Join(ErrInvalidFilter, fmt.Errorf("invalid field name %q", p.key))
		}

		if _, ok := ScalarValue(p.val); !ok {
			return errors.Join(ErrInvalidFilter, fmt.Errorf("field %q: unsupported value type %T", p.key, p.val))
		}
	}

	return nil
}

/***** FilterPredicate *****/

type PredicateKind int

const (
	// PredicateFieldEquals matches documents whose field equals the value.
	PredicateFieldEquals PredicateKind = iota + 1

	// PredicateArrayContains matches documents whose array field contains the value.
	PredicateArrayContains
)

type FilterPredicate struct {
	kind PredicateKind
	key  FilterKeyString
	val  any
}

// FieldEquals builds a predicate matching documents where key == val.
func FieldEquals(key FilterKeyString, val any) FilterPredicate {
	return FilterPredicate{kind: PredicateFieldEquals, key: key, val: val}
}

// ArrayContains builds a predicate matching documents where the array at key contains val.
func ArrayContains(key FilterKeyString, val string) FilterPredicate {
	return FilterPredicate{kind: PredicateArrayContains, key: key, val: val}
}

func (fp FilterPredicate) Kind() PredicateKind {
	return fp.kind
}

func (fp FilterPredicate) Key() FilterKeyString {
	return fp.key
}

func (fp FilterPredicate) Val() any {
	return fp.val
}

/***** FilterBuilder *****/

// FilterBuilder builds a Filter that engines translate into their own query language.
type FilterBuilder interface {
	// Where adds one or multiple predicates, all of which must match.
	//
	// It sanitizes the input:
	//	- removing predicates with an empty key
	//	- sorting the predicates
	//	- removing duplicate predicates
	Where(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterBuilder

	// MatchingAll directly creates an empty Filter.
	MatchingAll() Filter
}

type CompletedFilterBuilder interface {
	// AndWhere adds further predicates, sanitized like Where.
	AndWhere(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterBuilder

	// Finalize returns the Filter.
	Finalize() Filter
}

type filterBuilder struct {
	filter Filter
}

// BuildFilter creates a FilterBuilder which must eventually be finalized with Finalize() or MatchingAll().
func BuildFilter() FilterBuilder {
	return filterBuilder{}
}

func (fb filterBuilder) Where(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterBuilder {
	all := append(slices.Clone(fb.filter.predicates), predicate)
	fb.filter.predicates = fb.sanitizePredicates(append(all, predicates...))

	return fb
}

func (fb filterBuilder) AndWhere(predicate FilterPredicate, predicates ...FilterPredicate) CompletedFilterBuilder {
	return fb.Where(predicate, predicates...)
}

func (fb filterBuilder) MatchingAll() Filter {
	return Filter{}
}

func (fb filterBuilder) Finalize() Filter {
	return fb.filter
}

func (fb filterBuilder) sanitizePredicates(predicates []FilterPredicate) []FilterPredicate {
	predicates = slices.DeleteFunc(predicates, func(p FilterPredicate) bool { return p.key == "" })
	slices.SortFunc(predicates, func(a, b FilterPredicate) int {
		return cmp.Or(
			cmp.Compare(a.key, b.key),
			cmp.Compare(a.kind, b.kind),
			cmp.Compare(fmt.Sprint(a.val), fmt.Sprint(b.val)),
		)
	})

	predicates = slices.CompactFunc(predicates, func(a, b FilterPredicate) bool {
		return a.key == b.key && a.kind == b.kind && fmt.Sprint(a.val) == fmt.Sprint(b.val)
	})

	return slices.Clip(predicates)
}

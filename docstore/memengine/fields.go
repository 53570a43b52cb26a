package memengine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/digilib/lendingledger/docstore"
)

func decodeBody(body []byte) (map[string]any, error) {
	var fields map[string]any

	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, errors.Join(docstore.ErrInvalidDocument, err)
	}

	return fields, nil
}

func applyMutation(doc docstore.Document, mutation docstore.Mutation) ([]byte, error) {
	if expected, ok := mutation.ExpectedVersion(); ok && expected != doc.Version {
		return nil, errors.Join(
			docstore.ErrPreconditionFailed,
			fmt.Errorf("expected version %d, document is at %d", expected, doc.Version),
		)
	}

	fields, err := decodeBody(doc.Body)
	if err != nil {
		return nil, err
	}

	for _, g := range mutation.Guards() {
		if !guardHolds(fields, g) {
			return nil, errors.Join(
				docstore.ErrPreconditionFailed,
				fmt.Errorf("guard on %q does not hold", g.Field()),
			)
		}
	}

	for _, op := range mutation.Operations() {
		if err := applyOperation(fields, op); err != nil {
			return nil, err
		}
	}

	return json.Marshal(fields)
}

func applyOperation(fields map[string]any, op docstore.Operation) error {
	switch op.Kind() {
	case docstore.OpIncrement:
		current, ok := numberField(fields, op.Field())
		if !ok {
			return errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("field %q is not numeric", op.Field()))
		}

		delta, _ := normalize(op.Value())
		fields[op.Field()] = current + delta.(float64)

	case docstore.OpSet:
		value, _ := normalize(op.Value())
		fields[op.Field()] = value

	case docstore.OpAddToSet:
		members, ok := arrayField(fields, op.Field())
		if !ok {
			return errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("field %q is not an array", op.Field()))
		}

		member, _ := normalize(op.Value())
		if !slices.Contains(members, member) {
			members = append(members, member)
		}

		fields[op.Field()] = members

	case docstore.OpRemoveFromSet:
		members, ok := arrayField(fields, op.Field())
		if !ok {
			return errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("field %q is not an array", op.Field()))
		}

		member, _ := normalize(op.Value())
		fields[op.Field()] = slices.DeleteFunc(members, func(m any) bool { return m == member })

	default:
		return errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("unknown operation %d", op.Kind()))
	}

	return nil
}

func guardHolds(fields map[string]any, g docstore.Guard) bool {
	want, _ := normalize(g.Value())

	switch g.Kind() {
	case docstore.GuardAtLeast:
		current, ok := numberField(fields, g.Field())
		return ok && current >= want.(float64)

	case docstore.GuardAtMost:
		current, ok := numberField(fields, g.Field())
		return ok && current <= want.(float64)

	case docstore.GuardContains:
		members, ok := arrayField(fields, g.Field())
		return ok && slices.Contains(members, want)

	case docstore.GuardNotContains:
		members, ok := arrayField(fields, g.Field())
		return ok && !slices.Contains(members, want)

	case docstore.GuardEquals:
		return fields[g.Field()] == want

	default:
		return false
	}
}

func matches(fields map[string]any, filter docstore.Filter) bool {
	for _, p := range filter.Predicates() {
		want, _ := normalize(p.Val())

		switch p.Kind() {
		case docstore.PredicateFieldEquals:
			if fields[p.Key()] != want {
				return false
			}

		case docstore.PredicateArrayContains:
			members, ok := arrayField(fields, p.Key())
			if !ok || !slices.Contains(members, want) {
				return false
			}

		default:
			return false
		}
	}

	return true
}

// normalize maps scalar values onto the types encoding/json decoding produces,
// so they compare equal to decoded document fields.
func normalize(v any) (any, bool) {
	scalar, ok := docstore.ScalarValue(v)
	if !ok {
		return nil, false
	}

	switch n := scalar.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return scalar, true
	}
}

// numberField treats a missing field as 0.
func numberField(fields map[string]any, field string) (float64, bool) {
	raw, exists := fields[field]
	if !exists || raw == nil {
		return 0, true
	}

	n, ok := raw.(float64)

	return n, ok
}

// arrayField treats a missing field as an empty array.
func arrayField(fields map[string]any, field string) ([]any, bool) {
	raw, exists := fields[field]
	if !exists || raw == nil {
		return []any{}, true
	}

	members, ok := raw.([]any)

	return members, ok
}

package docstore

import (
	"errors"
	"fmt"
	"slices"
)

/***** Operation *****/

type OperationKind int

const (
	// OpIncrement adds a (possibly negative) delta to a numeric field; a missing field counts as 0.
	OpIncrement OperationKind = iota + 1

	// OpSet replaces a field with a scalar value.
	OpSet

	// OpAddToSet appends a member to an array field unless it is already present.
	OpAddToSet

	// OpRemoveFromSet removes every occurrence of a member from an array field.
	OpRemoveFromSet
)

func (k OperationKind) String() string {
	switch k {
	case OpIncrement:
		return "increment"
	case OpSet:
		return "set"
	case OpAddToSet:
		return "add_to_set"
	case OpRemoveFromSet:
		return "remove_from_set"
	default:
		return "unknown"
	}
}

type Operation struct {
	kind  OperationKind
	field string
	value any
}

func (o Operation) Kind() OperationKind {
	return o.kind
}

func (o Operation) Field() string {
	return o.field
}

// Value is the delta (int64) for increments, the member (string) for set operations,
// or the scalar for OpSet.
func (o Operation) Value() any {
	return o.value
}

/***** Guard *****/

type GuardKind int

const (
	GuardAtLeast GuardKind = iota + 1
	GuardAtMost
	GuardContains
	GuardNotContains
	GuardEquals
)

// Guard is a precondition evaluated atomically with the write it protects.
type Guard struct {
	kind  GuardKind
	field string
	value any
}

// AtLeast requires the numeric field to be >= n.
func AtLeast(field string, n int64) Guard {
	return Guard{kind: GuardAtLeast, field: field, value: n}
}

// AtMost requires the numeric field to be <= n.
func AtMost(field string, n int64) Guard {
	return Guard{kind: GuardAtMost, field: field, value: n}
}

// Contains requires the array field to contain member.
func Contains(field string, member string) Guard {
	return Guard{kind: GuardContains, field: field, value: member}
}

// NotContains requires the array field not to contain member.
func NotContains(field string, member string) Guard {
	return Guard{kind: GuardNotContains, field: field, value: member}
}

// Equals requires the field to equal the scalar value.
func Equals(field string, value any) Guard {
	return Guard{kind: GuardEquals, field: field, value: value}
}

func (g Guard) Kind() GuardKind {
	return g.kind
}

func (g Guard) Field() string {
	return g.field
}

func (g Guard) Value() any {
	return g.value
}

/***** Mutation *****/

// Mutation is an atomic set of field operations with optional preconditions.
// Build it with BuildMutation.
type Mutation struct {
	operations      []Operation
	guards          []Guard
	expectedVersion uint64
	versionGuarded  bool
}

func (m Mutation) Operations() []Operation {
	return m.operations
}

func (m Mutation) Guards() []Guard {
	return m.guards
}

// ExpectedVersion returns the document version the mutation is conditioned on, if any.
func (m Mutation) ExpectedVersion() (uint64, bool) {
	return m.expectedVersion, m.versionGuarded
}

// Validate checks that the mutation has at least one operation, that all field names
// are valid, that no field is touched by two operations and that all values are scalars.
func (m Mutation) Validate() error {
	if len(m.operations) == 0 {
		return errors.Join(ErrInvalidMutation, errors.New("mutation has no operations"))
	}

	touched := make([]string, 0, len(m.operations))

	for _, op := range m.operations {
		if !ValidFieldName(op.field) {
			return errors.Join(ErrInvalidMutation, fmt.Errorf("invalid field name %q", op.field))
		}

		if slices.Contains(touched, op.field) {
			return errors.Join(ErrInvalidMutation, fmt.Errorf("field %q is touched by more than one operation", op.field))
		}
		touched = append(touched, op.field)

		if _, ok := ScalarValue(op.value); !ok {
			return errors.Join(ErrInvalidMutation, fmt.Errorf("%s on %q: unsupported value type %T", op.kind, op.field, op.value))
		}
	}

	for _, g := range m.guards {
		if !ValidFieldName(g.field) {
			return errors.Join(ErrInvalidMutation, fmt.Errorf("invalid guard field name %q", g.field))
		}

		if _, ok := ScalarValue(g.value); !ok {
			return errors.Join(ErrInvalidMutation, fmt.Errorf("guard on %q: unsupported value type %T", g.field, g.value))
		}
	}

	return nil
}

/***** MutationBuilder *****/

// MutationBuilder accumulates operations and guards. Every method returns a copy,
// so partially built mutations can be shared safely.
type MutationBuilder struct {
	mutation Mutation
}

// BuildMutation creates a MutationBuilder which must eventually be finalized with Finalize().
func BuildMutation() MutationBuilder {
	return MutationBuilder{}
}

func (mb MutationBuilder) Increment(field string, delta int64) MutationBuilder {
	return mb.withOperation(Operation{kind: OpIncrement, field: field, value: delta})
}

func (mb MutationBuilder) Set(field string, value any) MutationBuilder {
	return mb.withOperation(Operation{kind: OpSet, field: field, value: value})
}

func (mb MutationBuilder) AddToSet(field string, member string) MutationBuilder {
	return mb.withOperation(Operation{kind: OpAddToSet, field: field, value: member})
}

func (mb MutationBuilder) RemoveFromSet(field string, member string) MutationBuilder {
	return mb.withOperation(Operation{kind: OpRemoveFromSet, field: field, value: member})
}

// Guarded adds preconditions that must all hold at write time.
func (mb MutationBuilder) Guarded(guard Guard, guards ...Guard) MutationBuilder {
	mb.mutation.guards = append(slices.Clone(mb.mutation.guards), guard)
	mb.mutation.guards = append(mb.mutation.guards, guards...)

	return mb
}

// ExpectVersion conditions the mutation on the document still being at version.
func (mb MutationBuilder) ExpectVersion(version uint64) MutationBuilder {
	mb.mutation.expectedVersion = version
	mb.mutation.versionGuarded = true

	return mb
}

func (mb MutationBuilder) Finalize() Mutation {
	return mb.mutation
}

func (mb MutationBuilder) withOperation(op Operation) MutationBuilder {
	mb.mutation.operations = append(slices.Clone(mb.mutation.operations), op)

	return mb
}

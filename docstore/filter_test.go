package docstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/digilib/lendingledger/docstore"
)

func Test_FilterBuilder_ValidCombinations(t *testing.T) {
	tests := []struct {
		name     string
		build    func() docstore.Filter
		validate func(t *testing.T, filter docstore.Filter)
	}{
		{
			name: "matching_all_creates_empty_filter",
			build: func() docstore.Filter {
				return docstore.BuildFilter().MatchingAll()
			},
			validate: func(t *testing.T, f docstore.Filter) {
				assert.Empty(t, f.Predicates())
			},
		},
		{
			name: "single_array_contains",
			build: func() docstore.Filter {
				return docstore.BuildFilter().
					Where(docstore.ArrayContains("currentReaders", "m1")).
					Finalize()
			},
			validate: func(t *testing.T, f docstore.Filter) {
				assert.Len(t, f.Predicates(), 1)
				assert.Equal(t, docstore.PredicateArrayContains, f.Predicates()[0].Kind())
				assert.Equal(t, "currentReaders", f.Predicates()[0].Key())
				assert.Equal(t, "m1", f.Predicates()[0].Val())
			},
		},
		{
			name: "predicates_are_sorted_by_key",
			build: func() docstore.Filter {
				return docstore.BuildFilter().
					Where(docstore.FieldEquals("isReturned", false)).
					AndWhere(docstore.ArrayContains("currentReaders", "m1")).
					Finalize()
			},
			validate: func(t *testing.T, f docstore.Filter) {
				assert.Len(t, f.Predicates(), 2)
				assert.Equal(t, "currentReaders", f.Predicates()[0].Key())
				assert.Equal(t, "isReturned", f.Predicates()[1].Key())
			},
		},
		{
			name: "duplicates_and_empty_keys_are_removed",
			build: func() docstore.Filter {
				return docstore.BuildFilter().
					Where(
						docstore.FieldEquals("role", "user"),
						docstore.FieldEquals("", "ignored"),
						docstore.FieldEquals("role", "user"),
					).
					Finalize()
			},
			validate: func(t *testing.T, f docstore.Filter) {
				assert.Len(t, f.Predicates(), 1)
				assert.Equal(t, "role", f.Predicates()[0].Key())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, tt.build())
		})
	}
}

func Test_Filter_Validate(t *testing.T) {
	valid := docstore.BuildFilter().Where(docstore.FieldEquals("isReturned", true)).Finalize()
	assert.NoError(t, valid.Validate())

	badKey := docstore.BuildFilter().Where(docstore.FieldEquals("body'; drop", true)).Finalize()
	assert.ErrorIs(t, badKey.Validate(), docstore.ErrInvalidFilter)

	badValue := docstore.BuildFilter().Where(docstore.FieldEquals("tags", []string{"a"})).Finalize()
	assert.ErrorIs(t, badValue.Validate(), docstore.ErrInvalidFilter)
}

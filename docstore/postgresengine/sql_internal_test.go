package postgresengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digilib/lendingledger/docstore"
)

func givenStoreForQueryBuilding() DocumentStore {
	return DocumentStore{tableName: defaultTableName}
}

func Test_BuildUpdateQuery_CarriesGuardsInWhereClause(t *testing.T) {
	// arrange
	ds := givenStoreForQueryBuilding()
	mutation := docstore.BuildMutation().
		Increment("availableCopies", -1).
		AddToSet("currentReaders", "m1").
		Guarded(docstore.AtLeast("availableCopies", 1), docstore.NotContains("currentReaders", "m1")).
		ExpectVersion(3).
		Finalize()

	// act
	sqlQuery, err := ds.buildUpdateQuery("books", "b1", mutation)

	// assert
	require.NoError(t, err)
	assert.Contains(t, sqlQuery, `UPDATE "documents"`)
	assert.Contains(t, sqlQuery, `"version" + 1`)
	assert.Contains(t, sqlQuery, `"version" = 3`)
	assert.Contains(t, sqlQuery, `'{availableCopies}'::text[]`)
	assert.Contains(t, sqlQuery, `'{currentReaders}'::text[]`)
	assert.Contains(t, sqlQuery, `>= 1`)
	assert.Contains(t, sqlQuery, `NOT (`)
	assert.Contains(t, sqlQuery, `'["m1"]'::jsonb`)
	assert.Contains(t, sqlQuery, "RETURNING")
}

func Test_BuildUpdateQuery_SetEncodesScalarsAsJSON(t *testing.T) {
	ds := givenStoreForQueryBuilding()
	mutation := docstore.BuildMutation().Set("isReturned", true).Finalize()

	sqlQuery, err := ds.buildUpdateQuery("books", "b1", mutation)

	require.NoError(t, err)
	assert.Contains(t, sqlQuery, `'true'::jsonb`)
}

func Test_BuildDeleteQuery_ConditionsOnVersion(t *testing.T) {
	ds := givenStoreForQueryBuilding()

	sqlQuery, err := ds.buildDeleteQuery("members", "m1", 4)

	require.NoError(t, err)
	assert.Contains(t, sqlQuery, `DELETE FROM "documents"`)
	assert.Contains(t, sqlQuery, `"id" = 'm1'`)
	assert.Contains(t, sqlQuery, `"version" = 4`)
}

func Test_BuildSelectQuery_OrdersByInsertion(t *testing.T) {
	// arrange
	ds := givenStoreForQueryBuilding()
	filter := docstore.BuildFilter().
		Where(docstore.ArrayContains("currentReaders", "m1")).
		AndWhere(docstore.FieldEquals("isReturned", false)).
		Finalize()

	// act
	sqlQuery, err := ds.buildSelectQuery("books", filter)

	// assert
	require.NoError(t, err)
	assert.Contains(t, sqlQuery, `FROM "documents"`)
	assert.Contains(t, sqlQuery, `'["m1"]'::jsonb`)
	assert.Contains(t, sqlQuery, `'false'::jsonb`)
	assert.Contains(t, sqlQuery, `ORDER BY "seq" ASC`)
}

func Test_BuildInsertQuery_IgnoresConflicts(t *testing.T) {
	ds := givenStoreForQueryBuilding()

	sqlQuery, err := ds.buildInsertQuery("books", "b1", []byte(`{"title":"Dune"}`))

	require.NoError(t, err)
	assert.Contains(t, sqlQuery, `INSERT INTO "documents"`)
	assert.Contains(t, sqlQuery, `ON CONFLICT DO NOTHING`)
}

func Test_ClassifyError(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		wantErrorType string
	}{
		{name: "precondition", err: docstore.ErrPreconditionFailed, wantErrorType: errorTypePrecondition},
		{name: "not found", err: docstore.ErrNotFound, wantErrorType: errorTypeNotFound},
		{name: "exists", err: docstore.ErrAlreadyExists, wantErrorType: errorTypeExists},
		{name: "invalid", err: docstore.ErrInvalidMutation, wantErrorType: errorTypeInvalid},
		{name: "database", err: docstore.ErrUpstreamUnavailable, wantErrorType: errorTypeDatabase},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			errorType, _ := classifyError(tc.err)
			assert.Equal(t, tc.wantErrorType, errorType)
		})
	}
}

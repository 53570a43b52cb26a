package postgresengine

import (
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	jsoniter "github.com/json-iterator/go"

	"github.com/digilib/lendingledger/docstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	dialectPostgres = "postgres"

	colSeq        = "seq"
	colCollection = "collection"
	colID         = "id"
	colVersion    = "version"
	colBody       = "body"
	colCreatedAt  = "created_at"
	colUpdatedAt  = "updated_at"

	castJsonb      = "?::jsonb"
	emptyJSONArray = `'[]'::jsonb`
)

var returnedColumns = []any{colCollection, colID, colVersion, colBody, colCreatedAt, colUpdatedAt}

type sqlQueryString = string

func (ds DocumentStore) buildGetQuery(collection string, id string) (sqlQueryString, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(ds.tableName).
		Select(returnedColumns...).
		Where(goqu.C(colCollection).Eq(collection), goqu.C(colID).Eq(id))

	return toSQL(stmt)
}

func (ds DocumentStore) buildExistsQuery(collection string, id string) (sqlQueryString, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(ds.tableName).
		Select(goqu.L("1")).
		Where(goqu.C(colCollection).Eq(collection), goqu.C(colID).Eq(id))

	return toSQL(stmt)
}

func (ds DocumentStore) buildSelectQuery(collection string, filter docstore.Filter) (sqlQueryString, error) {
	conditions := []exp.Expression{goqu.C(colCollection).Eq(collection)}

	for _, p := range filter.Predicates() {
		condition, err := predicateExpression(p)
		if err != nil {
			return "", err
		}

		conditions = append(conditions, condition)
	}

	stmt := goqu.Dialect(dialectPostgres).
		From(ds.tableName).
		Select(returnedColumns...).
		Where(conditions...).
		Order(goqu.C(colSeq).Asc())

	return toSQL(stmt)
}

func (ds DocumentStore) buildInsertQuery(collection string, id string, body []byte) (sqlQueryString, error) {
	stmt := goqu.Dialect(dialectPostgres).
		Insert(ds.tableName).
		Cols(colCollection, colID, colBody).
		Vals(goqu.Vals{collection, id, goqu.L(castJsonb, string(body))}).
		OnConflict(goqu.DoNothing()).
		Returning(returnedColumns...)

	return toSQL(stmt)
}

// buildUpdateQuery renders the mutation as a single UPDATE whose WHERE clause carries all guards,
// so a failed guard shows up as zero returned rows.
func (ds DocumentStore) buildUpdateQuery(collection string, id string, mutation docstore.Mutation) (sqlQueryString, error) {
	body, err := bodyExpression(mutation.Operations())
	if err != nil {
		return "", err
	}

	conditions := []exp.Expression{goqu.C(colCollection).Eq(collection), goqu.C(colID).Eq(id)}

	if version, ok := mutation.ExpectedVersion(); ok {
		conditions = append(conditions, goqu.C(colVersion).Eq(version))
	}

	for _, g := range mutation.Guards() {
		condition, err := guardExpression(g)
		if err != nil {
			return "", err
		}

		conditions = append(conditions, condition)
	}

	stmt := goqu.Dialect(dialectPostgres).
		Update(ds.tableName).
		Set(goqu.Record{
			colBody:      body,
			colVersion:   goqu.L("? + 1", goqu.C(colVersion)),
			colUpdatedAt: goqu.L("now()"),
		}).
		Where(conditions...).
		Returning(returnedColumns...)

	return toSQL(stmt)
}

func (ds DocumentStore) buildDeleteQuery(collection string, id string, expectedVersion uint64) (sqlQueryString, error) {
	stmt := goqu.Dialect(dialectPostgres).
		Delete(ds.tableName).
		Where(
			goqu.C(colCollection).Eq(collection),
			goqu.C(colID).Eq(id),
			goqu.C(colVersion).Eq(expectedVersion),
		)

	return toSQL(stmt)
}

func (ds DocumentStore) buildDeleteCollectionQuery(collection string) (sqlQueryString, error) {
	stmt := goqu.Dialect(dialectPostgres).
		Delete(ds.tableName).
		Where(goqu.C(colCollection).Eq(collection))

	return toSQL(stmt)
}

// bodyExpression nests one jsonb_set per operation. Operations read the pre-update body,
// which is correct because a mutation touches each field at most once.
func bodyExpression(operations []docstore.Operation) (exp.Expression, error) {
	var body exp.Expression = goqu.C(colBody)

	for _, op := range operations {
		path := fmt.Sprintf("{%s}", op.Field())
		current := goqu.L("?->?", goqu.C(colBody), op.Field())
		currentArray := goqu.L("COALESCE(?, "+emptyJSONArray+")", current)

		var value exp.Expression

		switch op.Kind() {
		case docstore.OpIncrement:
			value = goqu.L("to_jsonb(COALESCE((?->>?)::numeric, 0) + ?)", goqu.C(colBody), op.Field(), op.Value())

		case docstore.OpSet:
			encoded, err := encodeScalar(op.Value())
			if err != nil {
				return nil, err
			}

			value = goqu.L(castJsonb, encoded)

		case docstore.OpAddToSet:
			member, err := encodeMemberArray(op.Value())
			if err != nil {
				return nil, err
			}

			value = goqu.L("CASE WHEN ? @> ?::jsonb THEN ? ELSE ? || ?::jsonb END",
				currentArray, member, currentArray, currentArray, member)

		case docstore.OpRemoveFromSet:
			value = goqu.L("? - ?::text", currentArray, op.Value())

		default:
			return nil, errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("unknown operation %d", op.Kind()))
		}

		body = goqu.L("jsonb_set(?, ?::text[], ?, true)", body, path, value)
	}

	return body, nil
}

func guardExpression(g docstore.Guard) (exp.Expression, error) {
	number := goqu.L("COALESCE((?->>?)::numeric, 0)", goqu.C(colBody), g.Field())
	array := goqu.L("COALESCE(?->?, "+emptyJSONArray+")", goqu.C(colBody), g.Field())

	switch g.Kind() {
	case docstore.GuardAtLeast:
		return goqu.L("? >= ?", number, g.Value()), nil

	case docstore.GuardAtMost:
		return goqu.L("? <= ?", number, g.Value()), nil

	case docstore.GuardContains, docstore.GuardNotContains:
		member, err := encodeMemberArray(g.Value())
		if err != nil {
			return nil, err
		}

		contains := goqu.L("? @> ?::jsonb", array, member)
		if g.Kind() == docstore.GuardNotContains {
			return goqu.L("NOT (?)", contains), nil
		}

		return contains, nil

	case docstore.GuardEquals:
		encoded, err := encodeScalar(g.Value())
		if err != nil {
			return nil, err
		}

		return goqu.L("?->? = ?::jsonb", goqu.C(colBody), g.Field(), encoded), nil

	default:
		return nil, errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("unknown guard %d", g.Kind()))
	}
}

func predicateExpression(p docstore.FilterPredicate) (exp.Expression, error) {
	switch p.Kind() {
	case docstore.PredicateFieldEquals:
		encoded, err := encodeScalar(p.Val())
		if err != nil {
			return nil, err
		}

		return goqu.L("?->? = ?::jsonb", goqu.C(colBody), p.Key(), encoded), nil

	case docstore.PredicateArrayContains:
		member, err := encodeMemberArray(p.Val())
		if err != nil {
			return nil, err
		}

		return goqu.L("?->? @> ?::jsonb", goqu.C(colBody), p.Key(), member), nil

	default:
		return nil, errors.Join(docstore.ErrInvalidFilter, fmt.Errorf("unknown predicate %d", p.Kind()))
	}
}

func encodeScalar(v any) (string, error) {
	scalar, ok := docstore.ScalarValue(v)
	if !ok {
		return "", errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("unsupported value type %T", v))
	}

	encoded, err := json.Marshal(scalar)
	if err != nil {
		return "", errors.Join(docstore.ErrInvalidMutation, err)
	}

	return string(encoded), nil
}

// encodeMemberArray renders a single-element JSON array, the right-hand side of @> for array membership.
func encodeMemberArray(v any) (string, error) {
	scalar, ok := docstore.ScalarValue(v)
	if !ok {
		return "", errors.Join(docstore.ErrInvalidMutation, fmt.Errorf("unsupported value type %T", v))
	}

	encoded, err := json.Marshal([]any{scalar})
	if err != nil {
		return "", errors.Join(docstore.ErrInvalidMutation, err)
	}

	return string(encoded), nil
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func toSQL(stmt sqlBuilder) (sqlQueryString, error) {
	sqlQuery, _, err := stmt.ToSQL()
	if err != nil {
		return "", errors.Join(ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}

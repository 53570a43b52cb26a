package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/docstore/postgresengine/internal/adapters"
	"github.com/digilib/lendingledger/observability"
)

const defaultTableName = "documents"

var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrEmptyTableName        = errors.New("table name must not be empty")
	ErrNilIDGenerator        = errors.New("id generator must not be nil")
	ErrBuildingQueryFailed   = errors.New("building the sql statement failed")
	ErrScanningRowFailed     = errors.New("scanning a database row failed")
)

// DocumentStore is a docstore.Store on top of a single PostgreSQL table with a JSONB body column.
//
// Every mutation is one UPDATE ... RETURNING statement with its guards in the WHERE clause,
// so guard evaluation and the write are atomic without explicit row locks.
// Commit wraps its writes in a transaction.
type DocumentStore struct {
	db        adapters.DBAdapter
	tableName string
	newID     func() string
	observer  observability.Instrumentation
}

// NewDocumentStoreFromPGXPool creates a DocumentStore using a pgx Pool with optional configuration.
func NewDocumentStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (DocumentStore, error) {
	if db == nil {
		return DocumentStore{}, ErrNilDatabaseConnection
	}

	return newDocumentStore(adapters.NewPGXAdapter(db), options)
}

// NewDocumentStoreFromPGXPoolAndReplica creates a DocumentStore that serves reads under
// docstore.EventualConsistency from the replica pool.
func NewDocumentStoreFromPGXPoolAndReplica(
	primary *pgxpool.Pool,
	replica *pgxpool.Pool,
	options ...Option,
) (DocumentStore, error) {

	if primary == nil || replica == nil {
		return DocumentStore{}, ErrNilDatabaseConnection
	}

	return newDocumentStore(adapters.NewPGXAdapterWithReplica(primary, replica), options)
}

// NewDocumentStoreFromSQLDB creates a DocumentStore using a sql.DB with optional configuration.
func NewDocumentStoreFromSQLDB(db *sql.DB, options ...Option) (DocumentStore, error) {
	if db == nil {
		return DocumentStore{}, ErrNilDatabaseConnection
	}

	return newDocumentStore(adapters.NewSQLAdapter(db), options)
}

// NewDocumentStoreFromSQLX creates a DocumentStore using a sqlx.DB with optional configuration.
func NewDocumentStoreFromSQLX(db *sqlx.DB, options ...Option) (DocumentStore, error) {
	if db == nil {
		return DocumentStore{}, ErrNilDatabaseConnection
	}

	return newDocumentStore(adapters.NewSQLXAdapter(db), options)
}

func newDocumentStore(db adapters.DBAdapter, options []Option) (DocumentStore, error) {
	ds := DocumentStore{
		db:        db,
		tableName: defaultTableName,
		newID:     uuid.NewString,
	}

	for _, option := range options {
		if err := option(&ds); err != nil {
			return DocumentStore{}, err
		}
	}

	return ds, nil
}

// Get reads from the replica only when the context asks for eventual consistency.
func (ds DocumentStore) Get(ctx context.Context, collection string, id string) (docstore.Document, error) {
	if collection == "" {
		return docstore.Document{}, docstore.ErrEmptyCollection
	}

	observer, ctx := ds.startOperation(ctx, operationGet, collection)

	sqlQuery, err := ds.buildGetQuery(collection, id)
	if err != nil {
		observer.fail(err)
		return docstore.Document{}, err
	}

	docs, err := ds.queryDocuments(ctx, observer, ds.reader(ctx), sqlQuery)
	if err != nil {
		observer.fail(err)
		return docstore.Document{}, err
	}

	if len(docs) == 0 {
		err = errors.Join(docstore.ErrNotFound, fmt.Errorf("%s/%s", collection, id))
		observer.fail(err)

		return docstore.Document{}, err
	}

	observer.succeed(attrDocumentID, id)

	return docs[0], nil
}

// Query runs the SELECT when iteration starts.
func (ds DocumentStore) Query(
	ctx context.Context,
	collection string,
	filter docstore.Filter,
) iter.Seq2[docstore.Document, error] {

	if collection == "" {
		return docstore.Failed[docstore.Document](docstore.ErrEmptyCollection)
	}

	if err := filter.Validate(); err != nil {
		return docstore.Failed[docstore.Document](err)
	}

	return docstore.OneShot(func(yield func(docstore.Document, error) bool) {
		observer, ctx := ds.startOperation(ctx, operationQuery, collection)

		sqlQuery, err := ds.buildSelectQuery(collection, filter)
		if err != nil {
			observer.fail(err)
			yield(docstore.Document{}, err)

			return
		}

		docs, err := ds.queryDocuments(ctx, observer, ds.reader(ctx), sqlQuery)
		if err != nil {
			observer.fail(err)
			yield(docstore.Document{}, err)

			return
		}

		observer.succeed(attrDocumentCount, len(docs))

		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	})
}

func (ds DocumentStore) Create(ctx context.Context, collection string, id string, body []byte) (docstore.Document, error) {
	observer, ctx := ds.startOperation(ctx, operationCreate, collection)

	doc, err := ds.create(ctx, observer, ds.db, collection, id, body)
	if err != nil {
		observer.fail(err)
		return docstore.Document{}, err
	}

	observer.succeed(attrDocumentID, doc.ID)

	return doc, nil
}

func (ds DocumentStore) Update(
	ctx context.Context,
	collection string,
	id string,
	mutation docstore.Mutation,
) (docstore.Document, error) {

	observer, ctx := ds.startOperation(ctx, operationUpdate, collection)

	doc, err := ds.update(ctx, observer, ds.db, collection, id, mutation)
	if err != nil {
		observer.fail(err)
		return docstore.Document{}, err
	}

	observer.succeed(attrDocumentID, doc.ID, logAttrDocumentVersionNext, doc.Version)

	return doc, nil
}

// Commit runs all writes in one transaction and rolls back on the first failure.
func (ds DocumentStore) Commit(ctx context.Context, writes ...docstore.Write) ([]docstore.Document, error) {
	if len(writes) == 0 {
		return nil, docstore.ErrEmptyCommit
	}

	observer, ctx := ds.startOperation(ctx, operationCommit, writes[0].Collection())

	docs, err := ds.commit(ctx, observer, writes)
	if err != nil {
		observer.fail(err)
		return nil, err
	}

	observer.succeed(attrWriteCount, len(writes))

	return docs, nil
}

// Delete is a single DELETE conditioned on the version. Zero affected rows is classified
// like a failed update guard.
func (ds DocumentStore) Delete(ctx context.Context, collection string, id string, expectedVersion uint64) error {
	if collection == "" {
		return docstore.ErrEmptyCollection
	}

	observer, ctx := ds.startOperation(ctx, operationDelete, collection)

	sqlQuery, err := ds.buildDeleteQuery(collection, id, expectedVersion)
	if err != nil {
		observer.fail(err)
		return err
	}

	start := time.Now()
	result, err := ds.db.Exec(ctx, sqlQuery)
	observer.logSQL(sqlQuery, time.Since(start))

	if err != nil {
		err = errors.Join(docstore.ErrUpstreamUnavailable, err)
		observer.fail(err)

		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err = errors.Join(docstore.ErrUpstreamUnavailable, err)
		observer.fail(err)

		return err
	}

	if rowsAffected == 0 {
		exists, err := ds.exists(ctx, observer, ds.db, collection, id)
		if err == nil {
			err = errors.Join(docstore.ErrNotFound, fmt.Errorf("%s/%s", collection, id))
			if exists {
				err = errors.Join(docstore.ErrPreconditionFailed, fmt.Errorf("%s/%s", collection, id))
			}
		}

		observer.fail(err)

		return err
	}

	observer.succeed(attrDocumentID, id)

	return nil
}

// PurgeCollection deletes every document of collection and returns how many were removed.
func (ds DocumentStore) PurgeCollection(ctx context.Context, collection string) (int64, error) {
	if collection == "" {
		return 0, docstore.ErrEmptyCollection
	}

	observer, ctx := ds.startOperation(ctx, operationPurge, collection)

	sqlQuery, err := ds.buildDeleteCollectionQuery(collection)
	if err != nil {
		observer.fail(err)
		return 0, err
	}

	start := time.Now()
	result, err := ds.db.Exec(ctx, sqlQuery)
	observer.logSQL(sqlQuery, time.Since(start))

	if err != nil {
		err = errors.Join(docstore.ErrUpstreamUnavailable, err)
		observer.fail(err)

		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err = errors.Join(docstore.ErrUpstreamUnavailable, err)
		observer.fail(err)

		return 0, err
	}

	observer.succeed(logAttrRowsAffected, rowsAffected)

	return rowsAffected, nil
}

func (ds DocumentStore) commit(
	ctx context.Context,
	observer *operationObserver,
	writes []docstore.Write,
) (docs []docstore.Document, err error) {

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

	tx, err := ds.db.Begin(ctx)
	if err != nil {
		return nil, errors.Join(docstore.ErrUpstreamUnavailable, err)
	}

	defer func() {
		if err == nil {
			return
		}

		if rollbackErr := tx.Rollback(context.WithoutCancel(ctx)); rollbackErr != nil {
			ds.observer.Warn(ctx, logMsgRollbackFailed, observability.AttrError, rollbackErr.Error())
		}
	}()

	docs = make([]docstore.Document, 0, len(writes))

	for _, w := range writes {
		var doc docstore.Document

		switch w.Kind() {
		case docstore.WriteCreate:
			doc, err = ds.create(ctx, observer, tx, w.Collection(), w.ID(), w.Body())
		case docstore.WriteUpdate:
			doc, err = ds.update(ctx, observer, tx, w.Collection(), w.ID(), w.Mutation())
		default:
			err = fmt.Errorf("unknown write kind %d", w.Kind())
		}

		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, errors.Join(docstore.ErrUpstreamUnavailable, err)
	}

	return docs, nil
}

func (ds DocumentStore) create(
	ctx context.Context,
	observer *operationObserver,
	db adapters.DBQuerier,
	collection string,
	id string,
	body []byte,
) (docstore.Document, error) {

	if collection == "" {
		return docstore.Document{}, docstore.ErrEmptyCollection
	}

	if !isJSONObject(body) {
		return docstore.Document{}, docstore.ErrInvalidDocument
	}

	if id == "" {
		id = ds.newID()
	}

	sqlQuery, err := ds.buildInsertQuery(collection, id, body)
	if err != nil {
		return docstore.Document{}, err
	}

	docs, err := ds.queryDocuments(ctx, observer, db, sqlQuery)
	if err != nil {
		return docstore.Document{}, err
	}

	if len(docs) == 0 {
		return docstore.Document{}, errors.Join(docstore.ErrAlreadyExists, fmt.Errorf("%s/%s", collection, id))
	}

	return docs[0], nil
}

func (ds DocumentStore) update(
	ctx context.Context,
	observer *operationObserver,
	db adapters.DBQuerier,
	collection string,
	id string,
	mutation docstore.Mutation,
) (docstore.Document, error) {

	if collection == "" {
		return docstore.Document{}, docstore.ErrEmptyCollection
	}

	if err := mutation.Validate(); err != nil {
		return docstore.Document{}, err
	}

	sqlQuery, err := ds.buildUpdateQuery(collection, id, mutation)
	if err != nil {
		return docstore.Document{}, err
	}

	docs, err := ds.queryDocuments(ctx, observer, db, sqlQuery)
	if err != nil {
		return docstore.Document{}, err
	}

	if len(docs) > 0 {
		return docs[0], nil
	}

	// Zero rows: either the document is missing or a guard did not hold.
	exists, err := ds.exists(ctx, observer, db, collection, id)
	if err != nil {
		return docstore.Document{}, err
	}

	if !exists {
		return docstore.Document{}, errors.Join(docstore.ErrNotFound, fmt.Errorf("%s/%s", collection, id))
	}

	return docstore.Document{}, errors.Join(docstore.ErrPreconditionFailed, fmt.Errorf("%s/%s", collection, id))
}

func (ds DocumentStore) exists(
	ctx context.Context,
	observer *operationObserver,
	db adapters.DBQuerier,
	collection string,
	id string,
) (bool, error) {

	sqlQuery, err := ds.buildExistsQuery(collection, id)
	if err != nil {
		return false, err
	}

	start := time.Now()
	rows, err := db.Query(ctx, sqlQuery)
	observer.logSQL(sqlQuery, time.Since(start))

	if err != nil {
		return false, errors.Join(docstore.ErrUpstreamUnavailable, err)
	}
	defer ds.closeRows(ctx, rows)

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, errors.Join(docstore.ErrUpstreamUnavailable, err)
	}

	return found, nil
}

// queryDocuments runs a statement that returns full document rows.
func (ds DocumentStore) queryDocuments(
	ctx context.Context,
	observer *operationObserver,
	db adapters.DBQuerier,
	sqlQuery string,
) ([]docstore.Document, error) {

	start := time.Now()
	rows, err := db.Query(ctx, sqlQuery)
	observer.logSQL(sqlQuery, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ctxErr, err)
		}

		return nil, errors.Join(docstore.ErrUpstreamUnavailable, err)
	}
	defer ds.closeRows(ctx, rows)

	docs := make([]docstore.Document, 0)

	for rows.Next() {
		var (
			doc     docstore.Document
			version int64
		)

		if err := rows.Scan(&doc.Collection, &doc.ID, &version, &doc.Body, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, errors.Join(ErrScanningRowFailed, err)
		}

		doc.Version = uint64(version)
		doc.CreatedAt = doc.CreatedAt.UTC()
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(docstore.ErrUpstreamUnavailable, err)
	}

	return docs, nil
}

func (ds DocumentStore) reader(ctx context.Context) adapters.DBQuerier {
	if docstore.GetConsistencyLevel(ctx) == docstore.EventualConsistency {
		return replicaReader{db: ds.db}
	}

	return ds.db
}

func (ds DocumentStore) closeRows(ctx context.Context, rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		ds.observer.Warn(ctx, logMsgCloseRowsFailed, observability.AttrError, err.Error())
	}
}

// replicaReader routes Query to the replica of db.
type replicaReader struct {
	db adapters.DBAdapter
}

func (r replicaReader) Query(ctx context.Context, query string) (adapters.DBRows, error) {
	return r.db.QueryReplica(ctx, query)
}

func (r replicaReader) Exec(ctx context.Context, query string) (adapters.DBResult, error) {
	return r.db.Exec(ctx, query)
}

func isJSONObject(body []byte) bool {
	var fields map[string]any

	return json.Unmarshal(body, &fields) == nil && fields != nil
}

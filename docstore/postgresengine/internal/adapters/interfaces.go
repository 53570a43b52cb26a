package adapters

import "context"

// DBQuerier runs non-prepared SQL statements.
type DBQuerier interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBAdapter is a connection pool that can also start transactions.
type DBAdapter interface {
	DBQuerier

	// QueryReplica reads from a replica when one is configured, otherwise from the primary.
	QueryReplica(ctx context.Context, query string) (DBRows, error)

	Begin(ctx context.Context) (DBTx, error)
}

// DBTx is an open transaction.
type DBTx interface {
	DBQuerier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}

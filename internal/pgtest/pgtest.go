// Package pgtest starts a throwaway PostgreSQL container for integration tests and hands out
// DocumentStores on top of it.
//
// The database adapter is selected via the ADAPTER_TYPE environment variable
// (pgx.pool, sql.db or sqlx.db; pgx.pool when unset), so the same test suite
// covers all three drivers. Tests are skipped when no container runtime is available.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/digilib/lendingledger/config"
	"github.com/digilib/lendingledger/docstore/postgresengine"
	"github.com/digilib/lendingledger/docstore/postgresengine/migrations"
)

const (
	envAdapterType = "ADAPTER_TYPE"

	image    = "postgres:17-alpine"
	database = "lendingledger"
	username = "test"
	password = "test"

	startupTimeout = 2 * time.Minute
)

var (
	startOnce sync.Once
	sharedDSN string
	startErr  error
)

// Wrapper abstracts over the different connection types behind a DocumentStore.
type Wrapper interface {
	Store() postgresengine.DocumentStore
	Close()
}

type pgxPoolWrapper struct {
	pool  *pgxpool.Pool
	store postgresengine.DocumentStore
}

func (w *pgxPoolWrapper) Store() postgresengine.DocumentStore {
	return w.store
}

func (w *pgxPoolWrapper) Close() {
	w.pool.Close()
}

type sqlDBWrapper struct {
	db    *sql.DB
	store postgresengine.DocumentStore
}

func (w *sqlDBWrapper) Store() postgresengine.DocumentStore {
	return w.store
}

func (w *sqlDBWrapper) Close() {
	_ = w.db.Close() // nothing left to do about it in a test
}

type sqlxWrapper struct {
	db    *sqlx.DB
	store postgresengine.DocumentStore
}

func (w *sqlxWrapper) Store() postgresengine.DocumentStore {
	return w.store
}

func (w *sqlxWrapper) Close() {
	_ = w.db.Close() // nothing left to do about it in a test
}

// DSN returns the connection string of the shared, migrated test database.
// The container is started on first use and reaped by testcontainers when the test binary exits.
func DSN(t testing.TB) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	if tt, ok := t.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(tt)
	}

	startOnce.Do(func() {
		sharedDSN, startErr = start()
	})

	require.NoError(t, startErr, "error starting the postgres test container")

	return sharedDSN
}

// NewWrapper connects to the test database with the adapter selected by ADAPTER_TYPE.
// The connection is closed when the test finishes.
func NewWrapper(t testing.TB, options ...postgresengine.Option) Wrapper {
	t.Helper()

	dsn := DSN(t)
	ctx := context.Background()

	var wrapper Wrapper

	switch adapter := AdapterType(); adapter {
	case config.AdapterPGXPool:
		pool, err := config.PGXPool(ctx, dsn)
		require.NoError(t, err, "error connecting to DB pool in test setup")

		store, err := postgresengine.NewDocumentStoreFromPGXPool(pool, options...)
		require.NoError(t, err, "error creating the document store in test setup")

		wrapper = &pgxPoolWrapper{pool: pool, store: store}

	case config.AdapterSQLDB:
		db, err := config.SQLDB(ctx, dsn)
		require.NoError(t, err, "error connecting to DB in test setup")

		store, err := postgresengine.NewDocumentStoreFromSQLDB(db, options...)
		require.NoError(t, err, "error creating the document store in test setup")

		wrapper = &sqlDBWrapper{db: db, store: store}

	case config.AdapterSQLX:
		db, err := config.SQLX(ctx, dsn)
		require.NoError(t, err, "error connecting to DB in test setup")

		store, err := postgresengine.NewDocumentStoreFromSQLX(db, options...)
		require.NoError(t, err, "error creating the document store in test setup")

		wrapper = &sqlxWrapper{db: db, store: store}

	default:
		t.Fatalf("unsupported %s: %s", envAdapterType, adapter)
	}

	t.Cleanup(wrapper.Close)

	return wrapper
}

// AdapterType returns the adapter selected by ADAPTER_TYPE, pgx.pool when unset.
func AdapterType() string {
	adapter := strings.ToLower(os.Getenv(envAdapterType))
	if adapter == "" {
		return config.AdapterPGXPool
	}

	return adapter
}

// UniqueCollection returns a collection name no other test uses, which keeps tests
// sharing the database isolated without truncating the table.
func UniqueCollection(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func start() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase(database),
		postgres.WithUsername(username),
		postgres.WithPassword(password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("reading connection string: %w", err)
	}

	db, err := config.SQLDB(ctx, dsn)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := migrations.Up(ctx, db); err != nil {
		return "", fmt.Errorf("migrating: %w", err)
	}

	return dsn, nil
}

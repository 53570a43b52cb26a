package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

const (
	pgxMaxConnections    = int32(8)
	pgxMinConnections    = int32(2)
	sqlMaxOpenConns      = 50
	sqlMaxIdleConns      = 2
	poolMaxConnLifetime  = time.Hour
	poolMaxConnIdleTime  = time.Minute * 5
	poolHealthCheck      = time.Minute
	poolConnectTimeout   = time.Second * 5
	driverNamePostgresPQ = "postgres"
)

// PGXPoolConfig parses dsn and applies the pool limits used by the ledger.
func PGXPoolConfig(dsn string) (*pgxpool.Config, error) {
	dbConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	dbConfig.MaxConns = pgxMaxConnections
	dbConfig.MinConns = pgxMinConnections
	dbConfig.MaxConnLifetime = poolMaxConnLifetime
	dbConfig.MaxConnIdleTime = poolMaxConnIdleTime
	dbConfig.HealthCheckPeriod = poolHealthCheck
	dbConfig.ConnConfig.ConnectTimeout = poolConnectTimeout

	return dbConfig, nil
}

// PGXPool opens and pings a pgx pool.
func PGXPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	dbConfig, err := PGXPoolConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return pool, nil
}

// SQLDB opens and pings a database/sql pool on the lib/pq driver.
func SQLDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverNamePostgresPQ, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	configureStdPool(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return db, nil
}

// SQLX opens and pings a sqlx pool on the lib/pq driver.
func SQLX(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverNamePostgresPQ, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	configureStdPool(db.DB)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return db, nil
}

func configureStdPool(db *sql.DB) {
	db.SetMaxOpenConns(sqlMaxOpenConns)
	db.SetMaxIdleConns(sqlMaxIdleConns)
	db.SetConnMaxLifetime(poolMaxConnLifetime)
	db.SetConnMaxIdleTime(poolMaxConnIdleTime)
}

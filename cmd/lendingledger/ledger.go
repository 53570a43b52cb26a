package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/digilib/lendingledger/blobstore"
	"github.com/digilib/lendingledger/catalog"
	"github.com/digilib/lendingledger/config"
	"github.com/digilib/lendingledger/coordinator"
	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/docstore/memengine"
	"github.com/digilib/lendingledger/docstore/postgresengine"
	"github.com/digilib/lendingledger/httpapi"
	"github.com/digilib/lendingledger/identity"
	"github.com/digilib/lendingledger/lending"
	"github.com/digilib/lendingledger/members"
)

// ledger is the assembled object graph shared by serve and simulate.
type ledger struct {
	store       docstore.Store
	blobs       blobstore.Store
	blobDir     string
	blobRoute   string
	catalog     *catalog.Catalog
	members     *members.Directory
	machine     *lending.StateMachine
	coordinator *coordinator.Coordinator
	identity    *identity.LocalProvider
	health      map[string]httpapi.HealthCheck
	closers     []func()
}

func (l *ledger) Close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		l.closers[i]()
	}
}

func assembleLedger(ctx context.Context, cfg config.Config, tel telemetry) (*ledger, error) {
	l := &ledger{health: make(map[string]httpapi.HealthCheck)}

	if err := l.openStore(ctx, cfg, tel); err != nil {
		l.Close()
		return nil, err
	}

	if err := l.openBlobs(cfg); err != nil {
		l.Close()
		return nil, err
	}

	if err := l.wire(tel); err != nil {
		l.Close()
		return nil, err
	}

	return l, nil
}

func (l *ledger) openStore(ctx context.Context, cfg config.Config, tel telemetry) error {
	if cfg.Store == config.StoreMemory {
		store, err := memengine.NewStore()
		if err != nil {
			return err
		}

		l.store = store

		return nil
	}

	options := []postgresengine.Option{
		postgresengine.WithTableName(cfg.PGTable),
		postgresengine.WithLogger(tel.logger),
	}
	options = append(options, postgresOptions(tel)...)

	var (
		store postgresengine.DocumentStore
		err   error
	)

	switch cfg.PGAdapter {
	case config.AdapterPGXPool:
		pool, poolErr := config.PGXPool(ctx, cfg.PGDSN)
		if poolErr != nil {
			return fmt.Errorf("opening pgx pool: %w", poolErr)
		}

		l.closers = append(l.closers, pool.Close)
		l.health["postgres"] = pool.Ping

		if cfg.PGReplicaDSN == "" {
			store, err = postgresengine.NewDocumentStoreFromPGXPool(pool, options...)
			break
		}

		replica, replicaErr := config.PGXPool(ctx, cfg.PGReplicaDSN)
		if replicaErr != nil {
			return fmt.Errorf("opening pgx replica pool: %w", replicaErr)
		}

		l.closers = append(l.closers, replica.Close)
		l.health["postgres_replica"] = replica.Ping
		store, err = postgresengine.NewDocumentStoreFromPGXPoolAndReplica(pool, replica, options...)

	case config.AdapterSQLDB:
		db, dbErr := config.SQLDB(ctx, cfg.PGDSN)
		if dbErr != nil {
			return fmt.Errorf("opening sql.DB: %w", dbErr)
		}

		l.closers = append(l.closers, func() { _ = db.Close() })
		l.health["postgres"] = db.PingContext
		store, err = postgresengine.NewDocumentStoreFromSQLDB(db, options...)

	case config.AdapterSQLX:
		db, dbErr := config.SQLX(ctx, cfg.PGDSN)
		if dbErr != nil {
			return fmt.Errorf("opening sqlx.DB: %w", dbErr)
		}

		l.closers = append(l.closers, func() { _ = db.Close() })
		l.health["postgres"] = db.PingContext
		store, err = postgresengine.NewDocumentStoreFromSQLX(db, options...)

	default:
		return fmt.Errorf("unsupported adapter %q", cfg.PGAdapter)
	}

	if err != nil {
		return err
	}

	l.store = store

	return nil
}

func postgresOptions(tel telemetry) []postgresengine.Option {
	var options []postgresengine.Option

	if tel.contextual != nil {
		options = append(options, postgresengine.WithContextualLogger(tel.contextual))
	}

	if tel.metrics != nil {
		options = append(options, postgresengine.WithMetrics(tel.metrics))
	}

	if tel.tracing != nil {
		options = append(options, postgresengine.WithTracing(tel.tracing))
	}

	return options
}

func (l *ledger) openBlobs(cfg config.Config) error {
	if cfg.BlobDir == "" {
		blobs, err := blobstore.NewMemoryStore(cfg.BlobBaseURL)
		if err != nil {
			return err
		}

		l.blobs = blobs

		return nil
	}

	base, err := url.Parse(cfg.BlobBaseURL)
	if err != nil {
		return fmt.Errorf("parsing blob base url: %w", err)
	}

	if base.Path == "" || base.Path == "/" {
		return errors.New("blob base url needs a path to serve blobs under, e.g. /blobs")
	}

	blobs, err := blobstore.NewFileSystemStore(cfg.BlobDir, cfg.BlobBaseURL)
	if err != nil {
		return err
	}

	l.blobs = blobs
	l.blobDir = blobs.Dir()
	l.blobRoute = base.Path

	return nil
}

func (l *ledger) wire(tel telemetry) error {
	var err error

	catalogOptions := []catalog.Option{catalog.WithLogger(tel.logger)}
	memberOptions := []members.Option{members.WithLogger(tel.logger)}
	lendingOptions := []lending.Option{lending.WithLogger(tel.logger)}
	coordinatorOptions := []coordinator.Option{coordinator.WithLogger(tel.logger)}

	if tel.contextual != nil {
		catalogOptions = append(catalogOptions, catalog.WithContextualLogger(tel.contextual))
		memberOptions = append(memberOptions, members.WithContextualLogger(tel.contextual))
		lendingOptions = append(lendingOptions, lending.WithContextualLogger(tel.contextual))
		coordinatorOptions = append(coordinatorOptions, coordinator.WithContextualLogger(tel.contextual))
	}

	if tel.metrics != nil {
		lendingOptions = append(lendingOptions, lending.WithMetrics(tel.metrics))
		coordinatorOptions = append(coordinatorOptions, coordinator.WithMetrics(tel.metrics))
	}

	if tel.tracing != nil {
		lendingOptions = append(lendingOptions, lending.WithTracing(tel.tracing))
		coordinatorOptions = append(coordinatorOptions, coordinator.WithTracing(tel.tracing))
	}

	if l.catalog, err = catalog.New(l.store, l.blobs, catalogOptions...); err != nil {
		return err
	}

	if l.members, err = members.New(l.store, memberOptions...); err != nil {
		return err
	}

	if l.machine, err = lending.New(l.catalog, l.members, l.store, lendingOptions...); err != nil {
		return err
	}

	if l.coordinator, err = coordinator.New(l.machine, coordinatorOptions...); err != nil {
		return err
	}

	if l.identity, err = identity.NewLocalProvider(l.members, identity.WithLogger(tel.logger)); err != nil {
		return err
	}

	return nil
}

func (l *ledger) httpOptions(tel telemetry) []httpapi.Option {
	options := []httpapi.Option{httpapi.WithLogger(tel.logger)}

	if tel.contextual != nil {
		options = append(options, httpapi.WithContextualLogger(tel.contextual))
	}

	if tel.metrics != nil {
		options = append(options, httpapi.WithMetrics(tel.metrics))
	}

	if tel.tracing != nil {
		options = append(options, httpapi.WithTracing(tel.tracing))
	}

	if l.blobDir != "" {
		options = append(options, httpapi.WithBlobDirectory(l.blobRoute, l.blobDir))
	}

	for name, check := range l.health {
		options = append(options, httpapi.WithHealthCheck(name, check))
	}

	return options
}

package postgresengine_test

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/digilib/lendingledger/docstore/postgresengine"
)

func Test_Constructors_RejectNilConnections(t *testing.T) {
	_, err := postgresengine.NewDocumentStoreFromPGXPool(nil)
	assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)

	_, err = postgresengine.NewDocumentStoreFromPGXPoolAndReplica(nil, (*pgxpool.Pool)(nil))
	assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)

	_, err = postgresengine.NewDocumentStoreFromSQLDB((*sql.DB)(nil))
	assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)

	_, err = postgresengine.NewDocumentStoreFromSQLX((*sqlx.DB)(nil))
	assert.ErrorIs(t, err, postgresengine.ErrNilDatabaseConnection)
}

func Test_Options_RejectInvalidValues(t *testing.T) {
	db := &sql.DB{}

	_, err := postgresengine.NewDocumentStoreFromSQLDB(db, postgresengine.WithTableName(""))
	assert.ErrorIs(t, err, postgresengine.ErrEmptyTableName)

	_, err = postgresengine.NewDocumentStoreFromSQLDB(db, postgresengine.WithIDGenerator(nil))
	assert.ErrorIs(t, err, postgresengine.ErrNilIDGenerator)
}

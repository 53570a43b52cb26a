// Package adapters lets the PostgreSQL document store run on pgxpool.Pool, sql.DB or sqlx.DB.
// All three expose the same DBAdapter, including transactions for atomic multi-document commits.
package adapters

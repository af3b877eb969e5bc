// Package sqltest provides a CockroachDB-backed database for store tests.
package sqltest

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/testutils/unittest"
	"github.com/scholarr/scholarr/scholarr/go/sql"
)

// NewCockroachDBForTests creates a new temporary CockroachDB database with
// all tables created for testing.
//
// We pass in a database name prefix so that different tests work in
// different databases, even though they may be in the same CockroachDB
// instance, so that if a test fails it doesn't leave the database in a bad
// state for a subsequent test. A random number is appended to the prefix.
func NewCockroachDBForTests(t *testing.T, databaseNamePrefix string) *pgxpool.Pool {
	unittest.RequiresCockroachDB(t)

	databaseName := fmt.Sprintf("%s_%d", databaseNamePrefix, rand.Uint64())
	host := os.Getenv(unittest.CockroachDBEnvVar)
	connectionString := fmt.Sprintf("postgresql://root@%s/%s?sslmode=disable", host, databaseName)

	ctx := context.Background()
	db, err := pgxpool.Connect(ctx, connectionString)
	require.NoError(t, err)

	// Create a database in cockroachdb just for this test.
	_, err = db.Exec(ctx, fmt.Sprintf(`
		CREATE DATABASE %s;
		SET DATABASE = %s;`, databaseName, databaseName))
	require.NoError(t, err)

	_, err = db.Exec(ctx, sql.Schema)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

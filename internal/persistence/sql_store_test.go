package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/ticketflow/internal/testutil"
)

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every pooled connection to :memory: would be a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreConformance(t, newTestSQLiteStore)
}

func TestSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	_, err = NewSQLiteStore(ctx, db)
	require.NoError(t, err)
	_, err = NewSQLiteStore(ctx, db)
	require.NoError(t, err)
}

// resetSQL drops every table so each subtest starts from a clean schema.
func resetSQL(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"runs", "step_results", "run_leases", "run_history"} {
		_, err := db.Exec("DROP TABLE IF EXISTS " + table)
		require.NoError(t, err)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := testutil.PostgresDSN(t)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runStoreConformance(t, func(t *testing.T) Store {
		resetSQL(t, db)
		store, err := NewSQLStore(context.Background(), db, Postgres)
		require.NoError(t, err)
		return store
	})
}

func TestMySQLStore(t *testing.T) {
	dsn := testutil.MySQLDSN(t)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runStoreConformance(t, func(t *testing.T) Store {
		resetSQL(t, db)
		store, err := NewSQLStore(context.Background(), db, MySQL)
		require.NoError(t, err)
		return store
	})
}

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t, q, MySQL.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", Postgres.rebind(q))
}

func TestDialect_InsertIfAbsent(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO t (a, b) VALUES (?, ?) ON CONFLICT DO NOTHING",
		SQLite.insertIfAbsent("t", "a, b", "?, ?"))
	assert.Equal(t,
		"INSERT IGNORE INTO t (a, b) VALUES (?, ?)",
		MySQL.insertIfAbsent("t", "a, b", "?, ?"))
}

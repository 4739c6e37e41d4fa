package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sqlbridge.dev/core/oplog"
	"go.sqlbridge.dev/core/params"
	"go.sqlbridge.dev/core/store"
)

func TestAddIfNotExistsCases(t *testing.T) {
	for _, tc := range []struct{ in, out string }{
		{"CREATE TABLE t (a)", "CREATE TABLE IF NOT EXISTS t (a)"},
		{"create table \"x\" (a)", "create table IF NOT EXISTS \"x\" (a)"},
		{"CREATE INDEX i ON t (a)", "CREATE INDEX IF NOT EXISTS i ON t (a)"},
		{"CREATE UNIQUE INDEX u ON t (a)", "CREATE UNIQUE INDEX IF NOT EXISTS u ON t (a)"},
		{"CREATE VIEW v AS SELECT 1", "CREATE VIEW IF NOT EXISTS v AS SELECT 1"},
		{"CREATE\n\tTABLE t (a)", "CREATE\n\tTABLE IF NOT EXISTS t (a)"},
		// Already guarded, or not recognized.
		{"CREATE TABLE if not exists t (a)", "CREATE TABLE if not exists t (a)"},
		{"CREATE TRIGGER tr AFTER INSERT ON t BEGIN SELECT 1; END", "CREATE TRIGGER tr AFTER INSERT ON t BEGIN SELECT 1; END"},
		{"CREATE TABLES_ARE_NOT_A_THING", "CREATE TABLES_ARE_NOT_A_THING"},
	} {
		assert.Equal(t, tc.out, AddIfNotExists(tc.in))
	}
}

func TestRunClonesSchemaAndData(t *testing.T) {
	var ctx = context.Background()
	var remote = openStore(t, "remote.db")
	var sync = newSynchronizer(t, remote)

	require.NoError(t, remote.ExecuteBatch(ctx, `
		CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, avatar BLOB, score REAL);
		CREATE UNIQUE INDEX users_name ON users (name);
		CREATE VIEW names AS SELECT name FROM users;
		CREATE TABLE "odd table" ("a b" INTEGER);
		CREATE TABLE empty (x);
		CREATE TABLE libsql_private (k);
		INSERT INTO users (name, avatar, score) VALUES ('alice', X'0102', 1.5), ('bob', NULL, 2);
		INSERT INTO "odd table" VALUES (7);
		INSERT INTO libsql_private VALUES ('secret');
	`))

	require.NoError(t, sync.Run(ctx))

	done, err := sync.Done(ctx)
	require.NoError(t, err)
	assert.True(t, done)

	assert.Equal(t, [][]params.Value{
		{params.Int(1), params.Str("alice"), params.Bytes([]byte{1, 2}), params.Float(1.5)},
		{params.Int(2), params.Str("bob"), params.NullValue(), params.Float(2)},
	}, query(t, sync.Local, "SELECT id, name, avatar, score FROM users ORDER BY id"))
	assert.Equal(t, [][]params.Value{{params.Int(7)}},
		query(t, sync.Local, `SELECT "a b" FROM "odd table"`))
	assert.Len(t, query(t, sync.Local, "SELECT name FROM names"), 2)

	// Reserved tables aren't cloned.
	tables, err := sync.Local.TableNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "odd table", "empty"}, tables)

	// Cloned schema includes the unique index.
	_, err = sync.Local.Execute(ctx, "INSERT INTO users (name) VALUES ('alice')", params.None())
	assert.Error(t, err)

	// Clone writes aren't reflected in change counters.
	assert.Equal(t, int64(0), sync.Local.TotalChanges())
}

func TestRunIsIdempotent(t *testing.T) {
	var ctx = context.Background()
	var remote = openStore(t, "remote.db")
	var sync = newSynchronizer(t, remote)

	require.NoError(t, remote.ExecuteBatch(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);
		INSERT INTO t VALUES (1, 'one');
	`))
	require.NoError(t, sync.Run(ctx))

	// Local and remote diverge. A second Run observes the completion flag
	// and neither re-applies schema nor re-copies rows.
	_, err := sync.Local.Execute(ctx, "UPDATE t SET v = 'local' WHERE id = 1", params.None())
	require.NoError(t, err)
	require.NoError(t, remote.ExecuteBatch(ctx, "INSERT INTO t VALUES (2, 'two'); CREATE TABLE late (x);"))

	require.NoError(t, sync.Run(ctx))
	assert.Equal(t, [][]params.Value{{params.Int(1), params.Str("local")}},
		query(t, sync.Local, "SELECT id, v FROM t"))

	tables, err := sync.Local.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, tables)
}

func TestRunRetriesAfterFailure(t *testing.T) {
	var ctx = context.Background()
	var remote = openStore(t, "remote.db")
	var sync = newSynchronizer(t, remote)

	require.NoError(t, remote.ExecuteBatch(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);
		INSERT INTO t VALUES (1, 'one'), (2, 'two');
	`))
	// A conflicting local object causes the schema clone to fail.
	require.NoError(t, sync.Local.ExecuteBatch(ctx, "CREATE VIEW t AS SELECT 1 AS id, 'x' AS v"))

	assert.Error(t, sync.Run(ctx))
	done, err := sync.Done(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, sync.Local.ExecuteBatch(ctx, "DROP VIEW t"))
	require.NoError(t, sync.Run(ctx))
	assert.Len(t, query(t, sync.Local, "SELECT * FROM t"), 2)
}

func TestRefreshReplacesLocalRows(t *testing.T) {
	var ctx = context.Background()
	var remote = openStore(t, "remote.db")
	var sync = newSynchronizer(t, remote)

	require.NoError(t, remote.ExecuteBatch(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);
		INSERT INTO t VALUES (1, 'one');
	`))
	require.NoError(t, sync.Run(ctx))

	require.NoError(t, remote.ExecuteBatch(ctx, `
		UPDATE t SET v = 'uno' WHERE id = 1;
		INSERT INTO t VALUES (2, 'dos');
		CREATE TABLE late (x);
		INSERT INTO late VALUES ('hi');
	`))

	var stats, err = sync.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Statements: 2, Tables: 2, Rows: 3}, stats)

	assert.Equal(t, [][]params.Value{
		{params.Int(1), params.Str("uno")},
		{params.Int(2), params.Str("dos")},
	}, query(t, sync.Local, "SELECT id, v FROM t ORDER BY id"))
	assert.Equal(t, [][]params.Value{{params.Str("hi")}}, query(t, sync.Local, "SELECT x FROM late"))
}

func TestRefreshRemovesRowsDeletedRemotely(t *testing.T) {
	var ctx = context.Background()
	var remote = openStore(t, "remote.db")
	var sync = newSynchronizer(t, remote)

	require.NoError(t, remote.ExecuteBatch(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);
		CREATE TABLE u (x);
		INSERT INTO t VALUES (1, 'one'), (2, 'two'), (3, 'three');
		INSERT INTO u VALUES ('a'), ('a');
	`))
	require.NoError(t, sync.Run(ctx))
	assert.Len(t, query(t, sync.Local, "SELECT * FROM u"), 2)

	require.NoError(t, remote.ExecuteBatch(ctx, `
		DELETE FROM t WHERE id = 2;
		DELETE FROM u;
	`))

	var stats, err = sync.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Statements: 2, Tables: 2, Rows: 2}, stats)

	assert.Equal(t, [][]params.Value{
		{params.Int(1), params.Str("one")},
		{params.Int(3), params.Str("three")},
	}, query(t, sync.Local, "SELECT id, v FROM t ORDER BY id"))
	// A table emptied remotely is emptied locally.
	assert.Empty(t, query(t, sync.Local, "SELECT * FROM u"))

	// Refreshing twice doesn't duplicate rows of tables without keys.
	require.NoError(t, remote.ExecuteBatch(ctx, "INSERT INTO u VALUES ('b')"))
	_, err = sync.Refresh(ctx)
	require.NoError(t, err)
	_, err = sync.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]params.Value{{params.Str("b")}}, query(t, sync.Local, "SELECT x FROM u"))
	assert.True(t, sync.Local.IsAutocommit())
}

func TestRunWithinOpenLocalTransaction(t *testing.T) {
	var ctx = context.Background()
	var remote = openStore(t, "remote.db")
	var sync = newSynchronizer(t, remote)

	require.NoError(t, remote.ExecuteBatch(ctx, "CREATE TABLE t (v); INSERT INTO t VALUES (1);"))
	require.NoError(t, sync.Local.ExecuteBatch(ctx, "BEGIN"))

	require.NoError(t, sync.Run(ctx))
	assert.False(t, sync.Local.IsAutocommit())
	require.NoError(t, sync.Local.ExecuteBatch(ctx, "COMMIT"))

	assert.Len(t, query(t, sync.Local, "SELECT v FROM t"), 1)
}

func newSynchronizer(t *testing.T, remote store.Store) *Synchronizer {
	var local = openStore(t, "local.db")
	var l = oplog.New(local)
	require.NoError(t, l.EnsureTables(context.Background()))

	return &Synchronizer{Local: local, Remote: remote, Log: l}
}

func openStore(t *testing.T, name string) *store.SQLStore {
	var s, err = store.OpenLocal(context.Background(), store.LocalConfig{
		Path: filepath.Join(t.TempDir(), name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func query(t *testing.T, s store.Store, q string) [][]params.Value {
	var rows, err = s.Query(context.Background(), q, params.None())
	require.NoError(t, err)
	values, err := store.ScanValues(rows)
	require.NoError(t, err)
	return values
}

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sqlbridge.dev/core/params"
)

func TestLocalDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/a.db?_busy_timeout=5000&mode=rwc",
		LocalConfig{Path: "file:/tmp/a.db"}.DSN())
	assert.Equal(t, "file:a.db?_busy_timeout=5000&mode=ro",
		LocalConfig{Path: "a.db", Flags: OpenReadOnly}.DSN())
	assert.Equal(t, "file:a.db?_busy_timeout=5000&mode=rw",
		LocalConfig{Path: "a.db", Flags: OpenReadWrite}.DSN())
	assert.Equal(t, "file:a.db?_busy_timeout=5000&cache=shared&mode=rwc",
		LocalConfig{Path: "file:a.db?cache=shared"}.DSN())
	assert.Equal(t, "file:a.db?_pragma=busy_timeout%285000%29&mode=rwc",
		LocalConfig{Path: "a.db", Driver: DriverModernc}.DSN())
	assert.Equal(t, ":memory:", LocalConfig{Path: ":memory:"}.DSN())
}

func TestRemoteDSN(t *testing.T) {
	var dsn, err = RemoteDSN("libsql://db.example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.com?authToken=secret", dsn)

	dsn, err = RemoteDSN("http://127.0.0.1:8080", "")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", dsn)
}

func TestExecuteQueryAndCounters(t *testing.T) {
	var ctx = context.Background()
	var s = openTestStore(t)

	require.NoError(t, s.ExecuteBatch(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);
		INSERT INTO t (id, v) VALUES (1, 'a');
	`))

	var n, err = s.Execute(ctx, "INSERT INTO t (id, v) VALUES (?, ?), (?, ?)",
		params.Positional(params.Int(2), params.Str("b"), params.Int(3), params.Str("c")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), s.Changes())
	assert.Equal(t, int64(3), s.LastInsertRowID())

	n, err = s.Execute(ctx, "UPDATE t SET v = :v WHERE id = :id",
		params.Named(map[string]params.Value{":v": params.Str("z"), ":id": params.Int(1)}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(4), s.TotalChanges())

	rows, err := s.Query(ctx, "SELECT id, v FROM t ORDER BY id", params.None())
	require.NoError(t, err)
	values, err := ScanValues(rows)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.True(t, values[0][1].Equal(params.Str("z")))
	assert.True(t, values[2][0].Equal(params.Int(3)))

	stmt, err := s.Prepare(ctx, "SELECT v FROM t WHERE id = ?")
	require.NoError(t, err)
	var v string
	require.NoError(t, stmt.QueryRowContext(ctx, 2).Scan(&v))
	assert.Equal(t, "b", v)
	require.NoError(t, stmt.Close())

	// Errors are surfaced, and don't disturb counters.
	_, err = s.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'dup')", params.None())
	assert.Error(t, err)
	assert.Equal(t, int64(1), s.Changes())

	// Named keys which bind the same name are rejected before execution.
	_, err = s.Execute(ctx, "UPDATE t SET v = :v WHERE id = 2",
		params.Named(map[string]params.Value{":v": params.Str("x"), "$v": params.Str("y")}))
	assert.True(t, errors.Is(err, params.ErrDuplicateName))
	_, err = s.Query(ctx, "SELECT :v", params.Named(map[string]params.Value{":v": params.Int(1), "v": params.Int(2)}))
	assert.True(t, errors.Is(err, params.ErrDuplicateName))
	assert.Equal(t, int64(1), s.Changes())
}

func TestAutocommitAndReset(t *testing.T) {
	var ctx = context.Background()
	var s = openTestStore(t)

	assert.True(t, s.IsAutocommit())
	require.NoError(t, s.ExecuteBatch(ctx, "CREATE TABLE t (v); BEGIN; INSERT INTO t VALUES (1);"))
	assert.False(t, s.IsAutocommit())

	// Reset discards the open transaction along with its connection.
	require.NoError(t, s.Reset(ctx))
	assert.True(t, s.IsAutocommit())
	assert.Equal(t, int64(0), s.TotalChanges())

	var cnt int
	require.NoError(t, s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&cnt))
	assert.Equal(t, 0, cnt)
}

func TestResetKeepsInMemoryDatabase(t *testing.T) {
	var ctx = context.Background()
	var s, err = OpenLocal(ctx, LocalConfig{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.InMemory())

	require.NoError(t, s.ExecuteBatch(ctx, "CREATE TABLE t (v); INSERT INTO t VALUES (1);"))
	require.NoError(t, s.ExecuteBatch(ctx, "BEGIN; INSERT INTO t VALUES (2);"))
	assert.False(t, s.IsAutocommit())

	require.NoError(t, s.Reset(ctx))
	assert.True(t, s.IsAutocommit())
	assert.Equal(t, int64(0), s.TotalChanges())

	// The database survived, without the rolled-back row.
	rows, err := s.Query(ctx, "SELECT v FROM t", params.None())
	require.NoError(t, err)
	values, err := ScanValues(rows)
	require.NoError(t, err)
	assert.Equal(t, [][]params.Value{{params.Int(1)}}, values)

	// Reset outside of a transaction is a no-op.
	require.NoError(t, s.Reset(ctx))
	assert.False(t, openTestStore(t).InMemory())
}

func TestCatalogIntrospection(t *testing.T) {
	var ctx = context.Background()
	var s = openTestStore(t)

	require.NoError(t, s.ExecuteBatch(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, "odd ""name""" TEXT UNIQUE);
		CREATE INDEX t_idx ON t ("odd ""name""");
		CREATE VIEW t_view AS SELECT id FROM t;
		CREATE TABLE libsql_private (k);
		INSERT INTO t ("odd ""name""") VALUES ('x');
	`))

	stmts, err := s.SchemaStatements(ctx)
	require.NoError(t, err)
	require.Len(t, stmts, 3) // Excludes sqlite_sequence, libsql_private, and the UNIQUE autoindex.
	assert.Contains(t, stmts[0], "CREATE TABLE t")
	assert.Contains(t, stmts[1], "CREATE INDEX t_idx")
	assert.Contains(t, stmts[2], "CREATE VIEW t_view")

	tables, err := s.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, tables)

	cols, err := s.ColumnNames(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", `odd "name"`}, cols)

	assert.Equal(t, `"odd ""name"""`, QuoteIdentifier(`odd "name"`))
}

func TestModerncDriver(t *testing.T) {
	var ctx = context.Background()
	var s, err = OpenLocal(ctx, LocalConfig{
		Path:   filepath.Join(t.TempDir(), "modernc.db"),
		Driver: DriverModernc,
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.ExecuteBatch(ctx, "CREATE TABLE t (v); INSERT INTO t VALUES (1), (2);"))
	n, err := s.Execute(ctx, "DELETE FROM t", params.None())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, s.IsAutocommit()) // Not reported by this driver; assumed.
}

func TestReadOnlyFlags(t *testing.T) {
	var ctx = context.Background()
	var path = filepath.Join(t.TempDir(), "ro.db")

	// A read-only open of a missing database fails.
	_, err := OpenLocal(ctx, LocalConfig{Path: path, Flags: OpenReadOnly})
	assert.Error(t, err)

	rw, err := OpenLocal(ctx, LocalConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, rw.ExecuteBatch(ctx, "CREATE TABLE t (v)"))
	require.NoError(t, rw.Close())

	ro, err := OpenLocal(ctx, LocalConfig{Path: path, Flags: OpenReadOnly})
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.Execute(ctx, "INSERT INTO t VALUES (1)", params.None())
	assert.Error(t, err)
}

func openTestStore(t *testing.T) *SQLStore {
	var s, err = OpenLocal(context.Background(), LocalConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Package store adapts "database/sql" drivers to the Store interface through
// which connections issue statements, introspect the catalog, and inspect
// per-connection state such as the number of rows changed.
//
// A SQLStore pins a single driver connection for its lifetime, such that
// connection-scoped state (open transactions, last_insert_rowid, attached
// databases, an in-memory database) behaves as it would for an embedded
// SQLite handle rather than a connection pool.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"

	"github.com/pkg/errors"
	"go.sqlbridge.dev/core/params"
)

// Store is a relational store which accepts SQL text and Params.
type Store interface {
	// Execute a single statement, returning the number of affected rows.
	Execute(ctx context.Context, query string, p params.Params) (int64, error)
	// ExecuteBatch executes multi-statement SQL text without parameters.
	ExecuteBatch(ctx context.Context, batch string) error
	// Query a statement, returning a cursor over its rows.
	Query(ctx context.Context, query string, p params.Params) (*sql.Rows, error)
	// Prepare a statement for repeated use against this Store.
	Prepare(ctx context.Context, query string) (*sql.Stmt, error)

	// SchemaStatements returns CREATE statements of tables, indexes and views
	// in catalog order, excluding objects with reserved name prefixes.
	SchemaStatements(ctx context.Context) ([]string, error)
	// TableNames returns names of tables in catalog order, excluding
	// tables with reserved name prefixes.
	TableNames(ctx context.Context) ([]string, error)
	// ColumnNames returns the ordered column names of |table|.
	ColumnNames(ctx context.Context, table string) ([]string, error)

	// Changes is the number of rows modified by the most recent statement.
	Changes() int64
	// TotalChanges is the number of rows modified since the Store was opened or Reset.
	TotalChanges() int64
	// LastInsertRowID is the rowid of the most recent successful INSERT.
	LastInsertRowID() int64
	// IsAutocommit is false while an explicit transaction is open.
	IsAutocommit() bool
	// Reset discards the current connection state, replacing it with a fresh connection.
	Reset(ctx context.Context) error
	// Close the Store.
	Close() error
}

// SQLStore is a Store implementation over a *sql.DB, which issues all
// statements through one pinned *sql.Conn.
type SQLStore struct {
	DB *sql.DB

	name   string    // Name used in errors and logs (eg, "local", "remote").
	conn   *sql.Conn // Pinned connection.
	memory bool      // Database lives only within |conn|.

	changes      int64
	totalChanges int64
	lastInsertID int64
	mu           sync.Mutex // Guards |conn| and the counters above.
}

// NewSQLStore returns a SQLStore which pins a connection of the *DB.
// The SQLStore takes ownership of the *DB, and closes it on Close.
func NewSQLStore(ctx context.Context, name string, db *sql.DB) (*SQLStore, error) {
	var conn, err = db.Conn(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: acquiring connection", name)
	}
	return &SQLStore{DB: db, name: name, conn: conn}, nil
}

// Name of the SQLStore.
func (s *SQLStore) Name() string { return s.name }

// Execute implements Store.
func (s *SQLStore) Execute(ctx context.Context, query string, p params.Params) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var args, err = p.Args()
	if err != nil {
		return 0, err
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return s.observe(res), nil
}

// ExecuteBatch implements Store.
func (s *SQLStore) ExecuteBatch(ctx context.Context, batch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res, err = s.conn.ExecContext(ctx, batch)
	if err != nil {
		return err
	}
	s.observe(res)
	return nil
}

// ExecuteUntracked executes a statement over the pinned connection without
// updating change counters. It's used for bookkeeping writes which must not
// be observable through Changes, TotalChanges or LastInsertRowID.
func (s *SQLStore) ExecuteUntracked(ctx context.Context, query string, p params.Params) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var args, err = p.Args()
	if err != nil {
		return nil, err
	}
	return s.conn.ExecContext(ctx, query, args...)
}

// observe updates change counters from |res|, returning its affected rows.
// Drivers which cannot report a figure leave the prior value unchanged.
func (s *SQLStore) observe(res sql.Result) int64 {
	if n, err := res.RowsAffected(); err == nil {
		s.changes = n
		s.totalChanges += n
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		s.lastInsertID = id
	}
	return s.changes
}

// Query implements Store.
func (s *SQLStore) Query(ctx context.Context, query string, p params.Params) (*sql.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var args, err = p.Args()
	if err != nil {
		return nil, err
	}
	return s.conn.QueryContext(ctx, query, args...)
}

// Prepare implements Store.
func (s *SQLStore) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.PrepareContext(ctx, query)
}

// Changes implements Store.
func (s *SQLStore) Changes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes
}

// TotalChanges implements Store.
func (s *SQLStore) TotalChanges() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalChanges
}

// LastInsertRowID implements Store.
func (s *SQLStore) LastInsertRowID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInsertID
}

// IsAutocommit implements Store. Drivers whose connections expose an
// AutoCommit method (such as github.com/mattn/go-sqlite3) are asked directly.
// Otherwise the connection is assumed to be in autocommit mode.
func (s *SQLStore) IsAutocommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autocommit()
}

func (s *SQLStore) autocommit() bool {
	var autocommit = true
	_ = s.conn.Raw(func(dc interface{}) error {
		if ac, ok := dc.(interface{ AutoCommit() bool }); ok {
			autocommit = ac.AutoCommit()
		}
		return nil
	})
	return autocommit
}

// InMemory is true if the SQLStore is an in-memory database.
func (s *SQLStore) InMemory() bool { return s.memory }

// Reset implements Store. The pinned connection is discarded (rather than
// returned to the pool) and a fresh one is acquired, and change counters
// are zeroed.
//
// An in-memory database lives only within its connection. Reset of an
// in-memory SQLStore instead rolls back an open transaction and zeroes
// counters, keeping the connection and its database.
func (s *SQLStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.memory {
		if !s.autocommit() {
			if _, err := s.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
				return errors.WithMessagef(err, "%s: rolling back", s.name)
			}
		}
		s.changes, s.totalChanges, s.lastInsertID = 0, 0, 0
		return nil
	}

	// Returning ErrBadConn from Raw instructs database/sql to close the
	// underlying driver connection instead of pooling it.
	_ = s.conn.Raw(func(interface{}) error { return driver.ErrBadConn })
	_ = s.conn.Close()

	var conn, err = s.DB.Conn(ctx)
	if err != nil {
		return errors.WithMessagef(err, "%s: re-acquiring connection", s.name)
	}
	s.conn = conn
	s.changes, s.totalChanges, s.lastInsertID = 0, 0, 0
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err = s.conn.Close()
	if dbErr := s.DB.Close(); err == nil {
		err = dbErr
	}
	return err
}

var _ Store = (*SQLStore)(nil)

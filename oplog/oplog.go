// Package oplog is a durable log of write operations which were applied to a
// local store and are pending replay against a remote one. The log lives in
// reserved tables of the local store itself, alongside a small key/value
// metadata table, so that pending operations survive process restarts.
package oplog

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.sqlbridge.dev/core/params"
	"go.sqlbridge.dev/core/store"
)

// Table names of the log. Both carry store.ReservedPrefix, which excludes
// them from catalog introspection and therefore from bootstrap clones.
const (
	OpsTable      = store.ReservedPrefix + "pending_ops"
	MetadataTable = store.ReservedPrefix + "metadata"
)

// Kind of a logged Operation.
type Kind int

const (
	// Execute is a single statement, replayed with its Params.
	Execute Kind = iota
	// ExecuteBatch is multi-statement SQL text, replayed verbatim.
	ExecuteBatch
)

// String returns the tag under which the Kind is persisted.
func (k Kind) String() string {
	if k == ExecuteBatch {
		return "ExecuteBatch"
	}
	return "Execute"
}

// ParseKind maps a persisted tag to its Kind. The snake_case spelling
// "execute_batch" is also accepted. Unrecognized tags are Execute.
func ParseKind(tag string) Kind {
	switch tag {
	case "ExecuteBatch", "execute_batch":
		return ExecuteBatch
	default:
		return Execute
	}
}

// Operation is a write which was applied locally and awaits remote replay.
type Operation struct {
	// ID assigned by the durable log. Zero if the Operation was never
	// persisted (it then exists only in memory).
	ID     int64
	SQL    string
	Params params.Params
	Kind   Kind
	// EnqueuedAt is truncated to seconds when persisted.
	EnqueuedAt time.Time
}

// Log of pending Operations, stored within a local store.SQLStore.
// Writes of the Log are untracked, and don't alter the change counters
// of the SQLStore.
type Log struct {
	s *store.SQLStore
}

// New returns a Log over SQLStore |s|. EnsureTables must be called before
// the Log is otherwise used.
func New(s *store.SQLStore) *Log { return &Log{s: s} }

// EnsureTables creates the log and metadata tables, if they don't exist.
func (l *Log) EnsureTables(ctx context.Context) error {
	var _, err = l.s.ExecuteUntracked(ctx, `
		CREATE TABLE IF NOT EXISTS `+OpsTable+` (
			id             INTEGER PRIMARY KEY,
			sql            TEXT NOT NULL,
			params_json    TEXT NOT NULL,
			operation_type TEXT NOT NULL,
			timestamp      INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS `+MetadataTable+` (
			key   TEXT PRIMARY KEY,
			value TEXT
		);`, params.None())
	return errors.WithMessage(err, "creating operation log tables")
}

// Exists returns whether the log tables were created in the store. Unlike
// EnsureTables it doesn't modify the store, and may be used over a
// read-only one.
func (l *Log) Exists(ctx context.Context) (bool, error) {
	var rows, err = l.s.Query(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN (?, ?)",
		params.Positional(params.Str(OpsTable), params.Str(MetadataTable)))
	if err != nil {
		return false, errors.WithMessage(err, "inspecting operation log tables")
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		err = rows.Scan(&n)
	}
	if err == nil {
		err = rows.Err()
	}
	return n == 2, errors.WithMessage(err, "inspecting operation log tables")
}

// Persist |op| to the log, returning its assigned ID.
func (l *Log) Persist(ctx context.Context, op Operation) (int64, error) {
	var ts = op.EnqueuedAt
	if ts.IsZero() {
		ts = timeNow()
	}
	var res, err = l.s.ExecuteUntracked(ctx,
		"INSERT INTO "+OpsTable+" (sql, params_json, operation_type, timestamp) VALUES (?, ?, ?, ?)",
		params.Positional(
			params.Str(op.SQL),
			params.Str(params.Encode(op.Params)),
			params.Str(op.Kind.String()),
			params.Int(ts.Unix()),
		),
	)
	if err != nil {
		return 0, errors.WithMessage(err, "persisting pending operation")
	}
	id, err := res.LastInsertId()
	return id, errors.WithMessage(err, "persisting pending operation")
}

// Remove the Operation having |id| from the log. Failures are logged and
// otherwise ignored: a lingering entry is replayed again after a restart.
func (l *Log) Remove(ctx context.Context, id int64) {
	if _, err := l.s.ExecuteUntracked(ctx, "DELETE FROM "+OpsTable+" WHERE id = ?",
		params.Positional(params.Int(id))); err != nil {

		log.WithFields(log.Fields{"err": err, "id": id}).Warn("failed to remove pending operation")
	}
}

// LoadAll returns all logged Operations in ID order. Params which fail to
// decode are loaded as params.None().
func (l *Log) LoadAll(ctx context.Context) ([]Operation, error) {
	var rows, err = l.s.Query(ctx,
		"SELECT id, sql, params_json, operation_type, timestamp FROM "+OpsTable+" ORDER BY id",
		params.None())
	if err != nil {
		return nil, errors.WithMessage(err, "loading pending operations")
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		var pj, kind string
		var ts int64

		if err = rows.Scan(&op.ID, &op.SQL, &pj, &kind, &ts); err != nil {
			return nil, errors.WithMessage(err, "scanning pending operation")
		}
		if op.Params, err = params.Decode(pj); err != nil {
			log.WithFields(log.Fields{"err": err, "id": op.ID}).Warn("discarding malformed operation params")
		}
		op.Kind = ParseKind(kind)
		op.EnqueuedAt = time.Unix(ts, 0)

		out = append(out, op)
	}
	return out, errors.WithMessage(rows.Err(), "loading pending operations")
}

// Metadata returns the value of |key|, and whether it was present.
func (l *Log) Metadata(ctx context.Context, key string) (string, bool, error) {
	var rows, err = l.s.Query(ctx, "SELECT value FROM "+MetadataTable+" WHERE key = ?",
		params.Positional(params.Str(key)))
	if err != nil {
		return "", false, errors.WithMessagef(err, "reading metadata %q", key)
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, errors.WithMessagef(rows.Err(), "reading metadata %q", key)
	}
	var value sql.NullString
	if err = rows.Scan(&value); err != nil {
		return "", false, errors.WithMessagef(err, "reading metadata %q", key)
	}
	return value.String, true, nil
}

// SetMetadata inserts or replaces the |value| of |key|.
func (l *Log) SetMetadata(ctx context.Context, key, value string) error {
	var _, err = l.s.ExecuteUntracked(ctx, "INSERT OR REPLACE INTO "+MetadataTable+" (key, value) VALUES (?, ?)",
		params.Positional(params.Str(key), params.Str(value)))
	return errors.WithMessagef(err, "writing metadata %q", key)
}

var timeNow = time.Now

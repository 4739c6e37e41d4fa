// Package bootstrap clones the schema and data of a remote store into a
// local one. A Synchronizer performs the clone once, recording completion
// in the local operation log's metadata, and may later Refresh local data
// from the remote on demand.
package bootstrap

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.sqlbridge.dev/core/oplog"
	"go.sqlbridge.dev/core/params"
	"go.sqlbridge.dev/core/store"
)

// DoneKey is the metadata key recording completion of the initial clone.
const DoneKey = "initial_sync_done"

var rowsCopiedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sqlbridge_bootstrap_rows_total",
	Help: "Cumulative number of rows copied from remote to local stores.",
})

// Synchronizer clones a remote Store into a local SQLStore.
type Synchronizer struct {
	Local  *store.SQLStore
	Remote store.Store
	Log    *oplog.Log
}

// Stats summarize a clone.
type Stats struct {
	Statements int // Schema statements applied.
	Tables     int // Tables whose rows were copied.
	Rows       int // Rows copied.
}

// Run performs the initial clone, unless a prior Run completed. Completion
// is recorded only after schema and data are fully applied: if Run fails
// part-way it's retried in full on its next invocation, and rows already
// copied are ignored.
func (s *Synchronizer) Run(ctx context.Context) error {
	if done, err := s.Done(ctx); err != nil {
		return err
	} else if done {
		return nil
	}
	var stats, err = s.clone(ctx, false)
	if err != nil {
		return errors.WithMessage(err, "initial sync")
	}
	if err = s.Log.SetMetadata(ctx, DoneKey, "true"); err != nil {
		return errors.WithMessage(err, "initial sync")
	}

	log.WithFields(log.Fields{
		"statements": stats.Statements,
		"tables":     stats.Tables,
		"rows":       stats.Rows,
	}).Info("initial sync from remote complete")
	return nil
}

// Done returns whether a Run has previously completed.
func (s *Synchronizer) Done(ctx context.Context) (bool, error) {
	var value, _, err = s.Log.Metadata(ctx, DoneKey)
	return value == "true", err
}

// Refresh re-applies the remote schema and replaces the rows of each remote
// table in the local store with the remote's current rows. Local rows which
// the remote no longer has are removed. Unlike Run, it's performed
// regardless of prior completion.
func (s *Synchronizer) Refresh(ctx context.Context) (Stats, error) {
	var started = time.Now()

	var stats, err = s.clone(ctx, true)
	if err != nil {
		return stats, errors.WithMessage(err, "refresh")
	}
	if err = s.Log.SetMetadata(ctx, DoneKey, "true"); err != nil {
		return stats, errors.WithMessage(err, "refresh")
	}

	log.WithFields(log.Fields{
		"tables":  stats.Tables,
		"rows":    stats.Rows,
		"elapsed": time.Since(started),
	}).Debug("refreshed local store from remote")
	return stats, nil
}

func (s *Synchronizer) clone(ctx context.Context, replace bool) (Stats, error) {
	var stats Stats

	statements, err := s.Remote.SchemaStatements(ctx)
	if err != nil {
		return stats, err
	}
	for _, stmt := range statements {
		if _, err = s.Local.ExecuteUntracked(ctx, AddIfNotExists(stmt), params.None()); err != nil {
			return stats, errors.WithMessagef(err, "applying schema %q", stmt)
		}
		stats.Statements++
	}

	tables, err := s.Remote.TableNames(ctx)
	if err != nil {
		return stats, err
	}
	for _, table := range tables {
		var n int
		if n, err = s.copyTable(ctx, table, replace); err != nil {
			return stats, errors.WithMessagef(err, "copying table %s", table)
		}
		stats.Tables++
		stats.Rows += n
	}
	return stats, nil
}

// copyTable copies all rows of remote |table| into the local store. Rows
// having conflicting keys are ignored, or if |replace|, existing local rows
// of the table are first deleted. Changes are applied within a local
// transaction, unless the local store already has one open.
func (s *Synchronizer) copyTable(ctx context.Context, table string, replace bool) (int, error) {
	columns, err := s.Remote.ColumnNames(ctx, table)
	if err != nil {
		return 0, err
	} else if len(columns) == 0 {
		return 0, nil
	}

	var quoted = make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = store.QuoteIdentifier(c)
	}
	var colList = strings.Join(quoted, ", ")
	var placeholders = strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	rows, err := s.Remote.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s", colList, store.QuoteIdentifier(table)), params.None())
	if err != nil {
		return 0, err
	}
	values, err := store.ScanValues(rows)
	if err != nil {
		return 0, err
	} else if len(values) == 0 && !replace {
		return 0, nil
	}

	var verb = "INSERT OR IGNORE"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	var insert = fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
		verb, store.QuoteIdentifier(table), colList, placeholders)

	var txn = s.Local.IsAutocommit()
	if txn {
		if _, err = s.Local.ExecuteUntracked(ctx, "BEGIN", params.None()); err != nil {
			return 0, err
		}
	}
	var apply = func(query string, p params.Params) error {
		if _, err := s.Local.ExecuteUntracked(ctx, query, p); err != nil {
			if txn {
				_, _ = s.Local.ExecuteUntracked(ctx, "ROLLBACK", params.None())
			}
			return err
		}
		return nil
	}
	if replace {
		if err = apply("DELETE FROM "+store.QuoteIdentifier(table), params.None()); err != nil {
			return 0, err
		}
	}
	for _, row := range values {
		if err = apply(insert, params.Positional(row...)); err != nil {
			return 0, err
		}
	}
	if txn {
		if _, err = s.Local.ExecuteUntracked(ctx, "COMMIT", params.None()); err != nil {
			return 0, err
		}
	}
	rowsCopiedTotal.Add(float64(len(values)))
	return len(values), nil
}

// AddIfNotExists rewrites a CREATE TABLE, INDEX, UNIQUE INDEX, or VIEW
// statement to include "IF NOT EXISTS", so that it may be applied to a store
// which already has the object. Statements which already include the clause,
// or which aren't recognized, are returned unmodified.
func AddIfNotExists(stmt string) string {
	if ifNotExistsRe.MatchString(stmt) {
		return stmt
	}
	var loc = createObjectRe.FindStringIndex(stmt)
	if loc == nil {
		return stmt
	}
	return stmt[:loc[1]] + " IF NOT EXISTS" + stmt[loc[1]:]
}

var (
	createObjectRe = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:UNIQUE\s+INDEX|VIRTUAL\s+TABLE|TABLE|INDEX|VIEW)\b`)
	ifNotExistsRe  = regexp.MustCompile(`(?i)\bIF\s+NOT\s+EXISTS\b`)
)

package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"go.sqlbridge.dev/core/params"
)

// ReservedPrefix is the name prefix of tables which are owned by this
// project (such as the pending operation log) rather than by applications.
const ReservedPrefix = "libsql_"

// excludeReserved is a catalog predicate excluding objects owned by this
// project, or by SQLite itself (eg, sqlite_sequence or sqlite_stat1).
const excludeReserved = `name NOT LIKE 'libsql\_%' ESCAPE '\' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'`

// SchemaStatements implements Store. Objects without SQL text (such as
// automatic indexes) are skipped.
func (s *SQLStore) SchemaStatements(ctx context.Context) ([]string, error) {
	var out, err = s.queryStrings(ctx, `SELECT sql FROM sqlite_master
		WHERE type IN ('table', 'index', 'view') AND sql IS NOT NULL AND `+excludeReserved, params.None())
	return out, errors.WithMessage(err, "listing schema statements")
}

// TableNames implements Store.
func (s *SQLStore) TableNames(ctx context.Context) ([]string, error) {
	var out, err = s.queryStrings(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND `+excludeReserved, params.None())
	return out, errors.WithMessage(err, "listing tables")
}

// ColumnNames implements Store.
func (s *SQLStore) ColumnNames(ctx context.Context, table string) ([]string, error) {
	var out, err = s.queryStrings(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`,
		params.Positional(params.Str(table)))
	return out, errors.WithMessagef(err, "listing columns of %s", table)
}

func (s *SQLStore) queryStrings(ctx context.Context, query string, p params.Params) ([]string, error) {
	var rows, err = s.Query(ctx, query, p)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var str string
		if err = rows.Scan(&str); err != nil {
			return nil, err
		}
		out = append(out, str)
	}
	return out, rows.Err()
}

// QuoteIdentifier quotes |name| for use as a SQL identifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ScanValues reads all remaining |rows| into Values, closing |rows|.
func ScanValues(rows *sql.Rows) ([][]params.Value, error) {
	defer rows.Close()

	var cols, err = rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]params.Value

	for rows.Next() {
		var raw = make([]interface{}, len(cols))
		var ptrs = make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		var row = make([]params.Value, len(cols))
		for i, r := range raw {
			if row[i], err = params.FromAny(r); err != nil {
				return nil, errors.WithMessagef(err, "column %s", cols[i])
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

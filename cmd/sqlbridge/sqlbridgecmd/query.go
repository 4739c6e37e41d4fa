package sqlbridgecmd

import (
	"database/sql"
	"encoding/json"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"go.sqlbridge.dev/core/connection"
	mbp "go.sqlbridge.dev/core/mainboilerplate"
	"go.sqlbridge.dev/core/params"
	"go.sqlbridge.dev/core/store"
	"gopkg.in/yaml.v2"
)

type cmdQuery struct {
	ParamsConfig
	Format string `long:"format" short:"o" choice:"table" choice:"json" choice:"yaml" default:"table" description:"Output format"`
	Remote bool   `long:"remote" description:"Read from the remote database of an offline-write connection, rather than the local one"`
}

func init() {
	CommandRegistry.AddCommand("", "query", "Query rows", `
Run a SQL query and print its result rows.

Parameters are bound as they are by "exec":

>    sqlbridge query "SELECT * FROM users WHERE age > ?" 30

Results can be output in a variety of --format options:
table: Prints as a table.
json:  Prints rows as JSON objects, one per line.
yaml:  Prints rows as a YAML sequence of mappings.

Local replica and offline-write connections read from the local database.
Use --remote to read from the remote database of an offline-write connection.
`, &cmdQuery{})
}

func (cmd *cmdQuery) Execute(args []string) error {
	defer startup()()

	var query, rest, err = statement(args)
	if err != nil {
		return err
	}
	p, err := cmd.params(rest)
	if err != nil {
		return err
	}
	var ctx, conn = open()
	defer conn.Close()

	var rows *sql.Rows
	if cmd.Remote {
		var oc = connection.Offline(conn)
		if oc == nil {
			return errors.Errorf("--remote requires an offline-write connection (mode is %s)", conn.Mode())
		}
		rows, err = oc.Query(ctx, query, p, true)
	} else {
		rows, err = conn.Query(ctx, query, p)
	}
	if err != nil {
		return err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return err
	}
	values, err := store.ScanValues(rows)
	if err != nil {
		return err
	}

	switch cmd.Format {
	case "table":
		writeTable(os.Stdout, cols, values)
	case "json":
		writeJSON(os.Stdout, cols, values)
	case "yaml":
		writeYAML(os.Stdout, cols, values)
	}
	return nil
}

func writeTable(w io.Writer, cols []string, values [][]params.Value) {
	var table = tablewriter.NewWriter(w)
	table.Header(cols)

	for _, row := range values {
		var out = make([]string, len(row))
		for i, v := range row {
			out[i] = display(v)
		}
		table.Append(out)
	}
	table.Render()
}

func writeJSON(w io.Writer, cols []string, values [][]params.Value) {
	var enc = json.NewEncoder(w)
	for _, row := range values {
		var obj = make(map[string]params.Value, len(cols))
		for i, v := range row {
			obj[cols[i]] = v
		}
		mbp.Must(enc.Encode(obj), "failed to encode to json")
	}
}

func writeYAML(w io.Writer, cols []string, values [][]params.Value) {
	var out = make([]yaml.MapSlice, 0, len(values))
	for _, row := range values {
		var item = make(yaml.MapSlice, len(row))
		for i, v := range row {
			item[i] = yaml.MapItem{Key: cols[i], Value: v.Any()}
		}
		out = append(out, item)
	}
	b, err := yaml.Marshal(out)
	mbp.Must(err, "failed to encode to yaml")
	_, _ = w.Write(b)
}

// display formats |v| for a table cell. Text is shown without quoting.
func display(v params.Value) string {
	if s, ok := v.Text(); ok {
		return s
	}
	return v.String()
}

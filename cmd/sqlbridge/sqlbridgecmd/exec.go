package sqlbridgecmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.sqlbridge.dev/core/connection"
	mbp "go.sqlbridge.dev/core/mainboilerplate"
)

type cmdExec struct {
	ParamsConfig
}

type cmdBatch struct {
	File string `long:"file" short:"f" default:"-" description:"Path of SQL statements to execute. Use '-' for stdin"`
}

func init() {
	CommandRegistry.AddCommand("", "exec", "Execute a SQL statement", `
Execute a single SQL statement, and print the number of changed rows.

Trailing arguments are bound as positional parameters. Arguments which parse
as integers or reals are bound as such, NULL is bound as null, X'ABCD' is
bound as a blob, and anything else is bound as text:

>    sqlbridge exec "INSERT INTO users (name, age) VALUES (?, ?)" bob 42

Use --named to bind parameters by name instead:

>    sqlbridge exec "UPDATE users SET age = :age WHERE name = :name" -n name=bob -n age=43

With --db.offline-writes, the statement is applied to the local database and
queued for replay against the remote.
`, &cmdExec{})

	CommandRegistry.AddCommand("", "batch", "Execute multiple SQL statements", `
Execute semicolon-separated SQL statements read from --file, or from stdin.

>    sqlbridge batch --file schema.sql
>    echo "CREATE TABLE t (v); INSERT INTO t VALUES (1);" | sqlbridge batch
`, &cmdBatch{})
}

func (cmd *cmdExec) Execute(args []string) error {
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

	n, err := conn.Execute(ctx, query, p)
	if err != nil {
		return err
	}
	fmt.Printf("%d rows changed (last insert rowid %d)\n", n, conn.LastInsertRowID(ctx))
	printPending(conn)
	return nil
}

func (cmd *cmdBatch) Execute([]string) error {
	defer startup()()

	var batch, err = readBatch(inputFS, cmd.File, os.Stdin)
	mbp.Must(err, "failed to read SQL input", "file", cmd.File)

	var ctx, conn = open()
	defer conn.Close()

	if err = conn.ExecuteBatch(ctx, batch); err != nil {
		return err
	}
	fmt.Printf("%d total changes\n", conn.TotalChanges(ctx))
	printPending(conn)
	return nil
}

// inputFS is the filesystem from which --file inputs are read.
var inputFS = afero.NewOsFs()

// readBatch reads SQL text from |path| of |fs|, or from |stdin| if |path| is "-".
// Empty input is an error.
func readBatch(fs afero.Fs, path string, stdin io.Reader) (string, error) {
	var b []byte
	var err error

	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = afero.ReadFile(fs, path)
	}
	if err != nil {
		return "", err
	} else if len(strings.TrimSpace(string(b))) == 0 {
		return "", errors.New("no SQL statements to execute")
	}
	return string(b), nil
}

// printPending notes operations awaiting replay, if |conn| has any.
func printPending(conn connection.Connection) {
	if oc := connection.Offline(conn); oc != nil {
		if n := oc.PendingOperationsCount(); n != 0 {
			fmt.Printf("%d operations pending replay to %s\n", n, oc.Endpoint())
		}
	}
}

// Package sqlbridgecmd implements the sqlbridge command-line tool.
package sqlbridgecmd

import (
	"context"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.sqlbridge.dev/core/connection"
	mbp "go.sqlbridge.dev/core/mainboilerplate"
	"go.sqlbridge.dev/core/params"
)

const iniFilename = "sqlbridge.ini"

var (
	baseCfg = new(struct {
		Database    mbp.DatabaseConfig    `group:"Database" namespace:"db" env-namespace:"DB"`
		Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
	})

	// CommandRegistry of sqlbridge sub-commands. Commands register
	// themselves from init().
	CommandRegistry = mbp.NewCommandRegistry()
)

// ParamsConfig is common configuration of commands which bind statement
// parameters. Positional parameters are given as trailing arguments.
type ParamsConfig struct {
	Named []string `long:"named" short:"n" description:"Named parameter as name=value, eg -n id=42 -n name=bob. Cannot be combined with positional parameters"`
}

// params builds Params from |args| and the --named flags. Values are parsed
// with params.ParseLiteral.
func (cfg ParamsConfig) params(args []string) (params.Params, error) {
	var positional []params.Value
	for _, a := range args {
		positional = append(positional, params.ParseLiteral(a))
	}
	var named map[string]params.Value

	for _, kv := range cfg.Named {
		var ind = strings.IndexByte(kv, '=')
		if ind <= 0 {
			return params.Params{}, errors.Errorf("--named %q: expected name=value", kv)
		}
		if named == nil {
			named = make(map[string]params.Value)
		}
		var name = kv[:ind]
		if !strings.ContainsAny(name[:1], ":@$") {
			name = ":" + name
		}
		named[name] = params.ParseLiteral(kv[ind+1:])
	}
	return params.New(positional, named)
}

// startup initializes logging and diagnostics, and returns a closure
// which recovers a panic. Commands `defer startup()()`.
func startup() func() {
	mbp.InitLog(baseCfg.Log)
	return mbp.InitDiagnosticsAndRecover(baseCfg.Diagnostics)
}

// statement returns the SQL statement of |args| and its remaining arguments.
func statement(args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, errors.New("expected a SQL statement argument")
	}
	return args[0], args[1:], nil
}

// Execute parses configuration and runs the selected command.
func Execute() {
	var parser = flags.NewParser(baseCfg, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)
	parser.LongDescription = `sqlbridge is a tool for working with local, remote,
replicated, and offline-write SQLite and libSQL databases.

The connection mode follows from --db.* settings:
  * --db.url=file:app.db is a local database.
  * --db.url=libsql://app.example.io with --db.auth-token is a remote database.
  * --db.url=file:app.db with --db.auth-token and --db.sync-url is a local
    replica of a remote database.
  * --db.url=file:app.db with --db.sync-url and --db.offline-writes writes
    locally, and replays writes to the remote while it's reachable.

See --help pages of each sub-command for documentation and usage examples.
Optionally configure sqlbridge with a '` + iniFilename + `' file in the current working directory,
or with '~/.config/sqlbridge/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
the tool's current configuration.
`
	mbp.Must(CommandRegistry.AddCommands("", parser.Command, true), "could not add subcommand")
	mbp.MustParseConfig(parser, iniFilename)
}

// open the configured Connection. Commands exit upon completing, so
// offline writes are replayed inline.
func open() (context.Context, connection.Connection) {
	var ctx = context.Background()
	var cfg = baseCfg.Database.OneShot()
	return ctx, cfg.MustOpen(ctx)
}

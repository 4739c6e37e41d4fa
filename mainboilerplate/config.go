package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// ConfigSearchPaths returns directories searched, in order, for an INI
// configuration file:
//   - The current working directory.
//   - ~/.config/sqlbridge (under the user's $HOME or %UserProfile% directory).
//   - $SQLBRIDGE_CONFIG_ROOT, if set.
func ConfigSearchPaths() []string {
	var out = []string{
		".",
		filepath.Join(os.Getenv("HOME"), ".config", "sqlbridge"),
		filepath.Join(os.Getenv("UserProfile"), ".config", "sqlbridge"),
	}
	if root := os.Getenv("SQLBRIDGE_CONFIG_ROOT"); root != "" {
		out = append(out, root)
	}
	return out
}

// MustParseConfig requires that the Parser parse from the combination of an
// optional INI file, configured environment bindings, and explicit flags.
// The first INI file named |configName| within ConfigSearchPaths is used.
func MustParseConfig(parser *flags.Parser, configName string) {
	if path, err := parseINI(parser, configName); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		os.Exit(1)
	}
	MustParseArgs(parser)
}

// parseINI parses the first |configName| of ConfigSearchPaths into |parser|,
// returning its path, or "" if there was none. Options unknown to |parser|
// are ignored, as an INI file may configure commands other than the one run.
func parseINI(parser *flags.Parser, configName string) (string, error) {
	var restore = parser.Options
	parser.Options |= flags.IgnoreUnknown
	defer func() { parser.Options = restore }()

	var ini = flags.NewIniParser(parser)

	for _, dir := range ConfigSearchPaths() {
		var path = filepath.Join(dir, configName)

		if err := ini.ParseFile(path); os.IsNotExist(err) {
			continue
		} else {
			return path, err
		}
	}
	return "", nil
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
// Input errors exit the process, as go-flags has already described them.
// Errors of the configuration structs themselves panic.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		panic(err)
	case flags.ErrCommandRequired:
		// Follow "Please specify one command of: ..." with full usage.
		os.Stderr.WriteString("\n")
		writeUsage(parser)
	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			writeUsage(parser)
		}
	}
	os.Exit(1)
}

func writeUsage(parser *flags.Parser) {
	parser.WriteHelp(os.Stderr)
	fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
}

// AddPrintConfigCmd to the Parser. The "print-config" command helps users
// check the database connection and other settings a program will run with,
// by exporting all runtime configuration in INI format.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	var _, err = parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
Note that secrets (such as --db.auth-token) are included in the output.
`, &printConfig{parser})
	Must(err, "failed to add print-config command")
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	flags.NewIniParser(p.Parser).Write(os.Stdout,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	fmt.Fprintf(os.Stdout, "\n; Version %s, built at %s.\n", Version, BuildDate)
	return nil
}

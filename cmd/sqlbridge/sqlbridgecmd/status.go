package sqlbridgecmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"go.sqlbridge.dev/core/auth"
	"go.sqlbridge.dev/core/connection"
	mbp "go.sqlbridge.dev/core/mainboilerplate"
	"go.sqlbridge.dev/core/offline"
	"go.sqlbridge.dev/core/oplog"
	"gopkg.in/yaml.v2"
)

type cmdStatus struct {
	Format  string `long:"format" short:"o" choice:"table" choice:"yaml" default:"table" description:"Output format"`
	Pending bool   `long:"pending" short:"p" description:"List operations pending replay"`
}

func init() {
	CommandRegistry.AddCommand("", "status", "Show connection status", `
Show the mode of the configured connection and, for offline-write connections,
whether the remote is reachable, whether the initial sync has completed, and
how many operations await replay.

Use --pending to also list each pending operation in replay order.

Status doesn't modify the database. An offline-write database is opened
read-only: it's neither bootstrapped nor are pending operations replayed.
`, &cmdStatus{})
}

// status is the YAML form of cmdStatus output.
type status struct {
	Mode         connection.Mode `yaml:"mode"`
	Remote       string          `yaml:"remote,omitempty"`
	Online       *bool           `yaml:"online,omitempty"`
	Bootstrapped *bool           `yaml:"bootstrapped,omitempty"`
	Pending      int             `yaml:"pending"`
	Oldest       *time.Time      `yaml:"oldest_pending,omitempty"`
	TokenExpires *time.Time      `yaml:"token_expires,omitempty"`
	ReadOnly     bool            `yaml:"read_only_token,omitempty"`
	Operations   []pendingOp     `yaml:"operations,omitempty"`
}

type pendingOp struct {
	ID         int64  `yaml:"id"`
	Kind       string `yaml:"kind"`
	SQL        string `yaml:"sql"`
	Params     string `yaml:"params,omitempty"`
	EnqueuedAt string `yaml:"enqueued_at"`

	enqueued time.Time
}

func (cmd *cmdStatus) Execute([]string) error {
	defer startup()()

	var ctx = context.Background()
	var st, err = inspect(ctx, baseCfg.Database, cmd.Pending)
	mbp.Must(err, "failed to inspect database")

	switch cmd.Format {
	case "table":
		cmd.outputTable(os.Stdout, st)
	case "yaml":
		b, err := yaml.Marshal(st)
		mbp.Must(err, "failed to encode to yaml")
		_, _ = os.Stdout.Write(b)
	}
	return nil
}

// inspect builds the status of the database configured by |cfg|, without
// opening a Connection. An offline-write database is inspected read-only:
// it isn't bootstrapped, and its pending operations aren't replayed.
func inspect(ctx context.Context, cfg mbp.DatabaseConfig, withOps bool) (status, error) {
	var cc, err = cfg.ConnectionConfig()
	if err != nil {
		return status{}, err
	}
	mode, err := connection.DetectMode(cc)
	if err != nil {
		return status{}, err
	}
	var st = status{Mode: mode}

	if claims, err := auth.Inspect(cfg.AuthToken); err == nil {
		if claims.ExpiresAt != nil {
			st.TokenExpires = &claims.ExpiresAt.Time
		}
		st.ReadOnly = claims.ReadOnly()
	}
	if mode != connection.ModeOfflineWrite {
		return st, nil
	}

	ost, err := offline.Inspect(ctx, cc.OfflineConfig())
	if err != nil {
		return status{}, err
	}
	st.Remote = ost.Endpoint
	st.Online = &ost.Online
	st.Bootstrapped = &ost.Bootstrapped
	st.Pending = len(ost.Pending)

	if len(ost.Pending) != 0 {
		st.Oldest = &ost.Pending[0].EnqueuedAt
	}
	if withOps {
		for _, op := range ost.Pending {
			st.Operations = append(st.Operations, toPendingOp(op))
		}
	}
	return st, nil
}

func toPendingOp(op oplog.Operation) pendingOp {
	var out = pendingOp{
		ID:         op.ID,
		Kind:       op.Kind.String(),
		SQL:        op.SQL,
		EnqueuedAt: op.EnqueuedAt.UTC().Format(time.RFC3339),
		enqueued:   op.EnqueuedAt,
	}
	if !op.Params.IsNone() {
		out.Params = op.Params.String()
	}
	return out
}

func (cmd *cmdStatus) outputTable(w io.Writer, st status) {
	var table = tablewriter.NewWriter(w)
	table.Header([]string{"Mode", "Remote", "Online", "Bootstrapped", "Pending", "Oldest", "Token Expires"})

	var row = []string{string(st.Mode), "<none>", "", "", strconv.Itoa(st.Pending), "", ""}
	if st.Remote != "" {
		row[1] = st.Remote
	}
	if st.Online != nil {
		row[2] = strconv.FormatBool(*st.Online)
	}
	if st.Bootstrapped != nil {
		row[3] = strconv.FormatBool(*st.Bootstrapped)
	}
	if st.Oldest != nil {
		row[5] = humanize.Time(*st.Oldest)
	}
	if st.TokenExpires != nil {
		row[6] = humanize.Time(*st.TokenExpires)
	}
	if st.ReadOnly {
		row[6] += " (read-only)"
	}
	table.Append(row)
	table.Render()

	if !cmd.Pending || len(st.Operations) == 0 {
		return
	}
	fmt.Fprintln(w)

	table = tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Kind", "SQL", "Params", "Enqueued"})
	for _, op := range st.Operations {
		table.Append([]string{
			strconv.FormatInt(op.ID, 10),
			op.Kind,
			op.SQL,
			op.Params,
			humanize.Time(op.enqueued),
		})
	}
	table.Render()
}

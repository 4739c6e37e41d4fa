package sqlbridgecmd

import (
	"fmt"
)

type cmdSync struct{}

func init() {
	CommandRegistry.AddCommand("", "sync", "Synchronize with the remote database", `
Bring the connection up to date with its remote database.

A local replica is refreshed from the remote. An offline-write connection
completes its initial sync (if it hasn't yet), and then replays pending
operations to the remote, failing if the remote isn't reachable. Local and
remote connections have nothing to sync.
`, &cmdSync{})
}

func (cmd *cmdSync) Execute([]string) error {
	defer startup()()

	var ctx, conn = open()
	defer conn.Close()

	var msg, err = conn.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

package connection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.sqlbridge.dev/core/bootstrap"
	"go.sqlbridge.dev/core/oplog"
	"go.sqlbridge.dev/core/params"
	"go.sqlbridge.dev/core/store"
	"go.sqlbridge.dev/core/task"
)

// replicaConn reads from a local replica and writes to the remote. The
// replica is refreshed from the remote by Sync, and optionally every
// SyncInterval.
type replicaConn struct {
	id             string
	local          *store.SQLStore
	remote         store.Store
	sync           *bootstrap.Synchronizer
	readYourWrites bool
	tasks          *task.Group
}

func openReplica(ctx context.Context, id string, cfg Config) (*replicaConn, error) {
	local, err := store.OpenLocal(ctx, localConfig(cfg, cfg.URL))
	if err != nil {
		return nil, err
	}
	remote, err := store.OpenRemote(ctx, cfg.SyncURL, cfg.AuthToken)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	c, err := newReplica(ctx, id, local, remote, cfg.ReadYourWrites, cfg.SyncInterval)
	if err != nil {
		_ = local.Close()
		_ = remote.Close()
		return nil, err
	}
	return c, nil
}

// newReplica prepares the |local| replica of |remote|, performs an
// initial Sync, and starts periodic refreshes if |interval| is non-zero.
func newReplica(ctx context.Context, id string, local *store.SQLStore, remote store.Store,
	readYourWrites bool, interval time.Duration) (*replicaConn, error) {

	var l = oplog.New(local)
	if err := l.EnsureTables(ctx); err != nil {
		return nil, err
	}
	var c = &replicaConn{
		id:             id,
		local:          local,
		remote:         remote,
		sync:           &bootstrap.Synchronizer{Local: local, Remote: remote, Log: l},
		readYourWrites: readYourWrites,
		tasks:          task.NewGroup(context.Background()),
	}
	if _, err := c.Sync(ctx); err != nil {
		return nil, err
	}
	if interval > 0 {
		c.tasks.Go("periodic replica refresh", func(ctx context.Context) error {
			return c.servePeriodicSync(ctx, interval)
		})
	}
	return c, nil
}

func (c *replicaConn) servePeriodicSync(ctx context.Context, interval time.Duration) error {
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := c.Sync(ctx); err != nil && ctx.Err() == nil {
			log.WithFields(log.Fields{"conn": c.id, "err": err}).Warn("periodic replica refresh failed")
		}
	}
}

func (c *replicaConn) ID() string { return c.id }
func (c *replicaConn) Mode() Mode { return ModeReplica }

// Execute against the remote and, with read-your-writes, the local replica.
// A failure to apply a remote-committed write to the replica is logged,
// and is corrected by the next Sync.
func (c *replicaConn) Execute(ctx context.Context, query string, p params.Params) (int64, error) {
	var n, err = c.remote.Execute(ctx, query, p)
	if err != nil {
		return 0, err
	}
	if c.readYourWrites {
		if _, lErr := c.local.Execute(ctx, query, p); lErr != nil {
			log.WithFields(log.Fields{"conn": c.id, "err": lErr}).Warn("failed to apply write to local replica")
		}
	}
	return n, nil
}

// ExecuteBatch is applied as Execute is.
func (c *replicaConn) ExecuteBatch(ctx context.Context, batch string) error {
	if err := c.remote.ExecuteBatch(ctx, batch); err != nil {
		return err
	}
	if c.readYourWrites {
		if lErr := c.local.ExecuteBatch(ctx, batch); lErr != nil {
			log.WithFields(log.Fields{"conn": c.id, "err": lErr}).Warn("failed to apply batch to local replica")
		}
	}
	return nil
}

func (c *replicaConn) Query(ctx context.Context, query string, p params.Params) (*sql.Rows, error) {
	return c.local.Query(ctx, query, p)
}

func (c *replicaConn) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.local.Prepare(ctx, query)
}

func (c *replicaConn) Changes(context.Context) int64         { return c.remote.Changes() }
func (c *replicaConn) TotalChanges(context.Context) int64    { return c.remote.TotalChanges() }
func (c *replicaConn) LastInsertRowID(context.Context) int64 { return c.remote.LastInsertRowID() }
func (c *replicaConn) IsAutocommit(context.Context) bool     { return c.remote.IsAutocommit() }

func (c *replicaConn) Reset(ctx context.Context) error {
	if err := c.remote.Reset(ctx); err != nil {
		return errors.WithMessage(err, "resetting remote")
	}
	return errors.WithMessage(c.local.Reset(ctx), "resetting replica")
}

// Sync refreshes the replica from the remote.
func (c *replicaConn) Sync(ctx context.Context) (string, error) {
	var stats, err = c.sync.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Refreshed %d tables, %d rows", stats.Tables, stats.Rows), nil
}

func (c *replicaConn) Close() error {
	if err := c.tasks.Stop(); err != nil {
		log.WithFields(log.Fields{"conn": c.id, "err": err}).Warn("replica refresh task exited with error")
	}
	closed(c.id, ModeReplica)

	var err = c.remote.Close()
	if lErr := c.local.Close(); err == nil {
		err = lErr
	}
	return err
}

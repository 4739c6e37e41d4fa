package offline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.sqlbridge.dev/core/bootstrap"
	"go.sqlbridge.dev/core/oplog"
	"go.sqlbridge.dev/core/params"
	"go.sqlbridge.dev/core/probe"
	"go.sqlbridge.dev/core/store"
	"go.sqlbridge.dev/core/task"
)

// ErrOffline is returned by operations which require a reachable remote.
var ErrOffline = errors.New("cannot sync: remote is unreachable")

// ErrBootstrap is matched (via errors.Is) by errors returned when a Conn was
// constructed but the initial clone of the remote failed. The Conn remains
// usable in local-only fashion, and the clone is retried by ManualSync.
var ErrBootstrap = errors.New("initial sync failed")

type bootstrapError struct{ err error }

func (e bootstrapError) Error() string        { return ErrBootstrap.Error() + ": " + e.err.Error() }
func (e bootstrapError) Unwrap() error        { return e.err }
func (e bootstrapError) Is(target error) bool { return target == ErrBootstrap }

// SyncMode determines how pending operations are replayed after a write.
type SyncMode int

const (
	// SyncBackground hands off to a background worker of the Conn, which
	// replays pending operations while the remote is reachable. Writes don't
	// wait on the remote.
	SyncBackground SyncMode = iota
	// SyncInline replays pending operations within the writing call, if the
	// remote is reachable. Replay errors aren't returned to the writer.
	SyncInline
)

// Config of a Conn opened with Open.
type Config struct {
	// Local database path, and options by which it's opened.
	LocalPath     string
	LocalFlags    store.OpenFlags
	LocalDriver   string
	EncryptionKey string
	// RemoteURL of the remote libSQL database, which is also probed for reachability.
	RemoteURL string
	AuthToken string
	SyncMode  SyncMode
}

// Conn is a logical database connection which writes locally and replays
// writes to a remote. It's safe for concurrent use.
type Conn struct {
	local  *store.SQLStore
	remote store.Store
	cache  *probe.Cache
	log    *oplog.Log
	boot   *bootstrap.Synchronizer
	mode   SyncMode

	pending []oplog.Operation
	mu      sync.Mutex // Guards |pending|.
	syncMu  sync.Mutex // Serializes sync passes.

	tasks    *task.Group
	signalCh chan struct{}
}

// Open the local and remote stores of |cfg| and return a Conn over them.
// The Conn shares the process-wide probe.Cache of the remote endpoint.
//
// As with New, if only the bootstrap of the local store failed, both a
// usable *Conn and an error matching ErrBootstrap are returned.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	cache, err := probe.Shared(cfg.RemoteURL)
	if err != nil {
		return nil, errors.WithMessage(err, "remote sync endpoint")
	}
	local, err := store.OpenLocal(ctx, store.LocalConfig{
		Path:          cfg.LocalPath,
		Flags:         cfg.LocalFlags,
		EncryptionKey: cfg.EncryptionKey,
		Driver:        cfg.LocalDriver,
	})
	if err != nil {
		return nil, err
	}
	remote, err := store.OpenRemote(ctx, cfg.RemoteURL, cfg.AuthToken)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return New(ctx, local, remote, cache, cfg.SyncMode)
}

// New returns a Conn over |local| and |remote| stores, which probes
// reachability of |remote| through |cache|. The Conn takes ownership of
// both stores. New prepares the local operation log, bootstraps the local
// store if the remote is reachable, and loads previously logged operations.
//
// A bootstrap failure doesn't fail New: it returns the Conn together with
// an error matching ErrBootstrap. Any other error closes both stores.
func New(ctx context.Context, local *store.SQLStore, remote store.Store, cache *probe.Cache, mode SyncMode) (*Conn, error) {
	var l = oplog.New(local)
	var c = &Conn{
		local:    local,
		remote:   remote,
		cache:    cache,
		log:      l,
		boot:     &bootstrap.Synchronizer{Local: local, Remote: remote, Log: l},
		mode:     mode,
		tasks:    task.NewGroup(context.Background()),
		signalCh: make(chan struct{}, 1),
	}
	var fail = func(err error) (*Conn, error) {
		_ = local.Close()
		_ = remote.Close()
		return nil, err
	}

	if err := l.EnsureTables(ctx); err != nil {
		return fail(err)
	}

	var bootErr error
	if cache.IsOnline(ctx) {
		if err := c.boot.Run(ctx); err != nil {
			log.WithFields(log.Fields{"endpoint": cache.Endpoint(), "err": err}).
				Warn("bootstrap failed; continuing with local store only")
			bootErr = bootstrapError{err}
		}
	}

	var ops, err = l.LoadAll(ctx)
	if err != nil {
		return fail(err)
	}
	c.pending = ops

	if mode == SyncBackground {
		c.tasks.Go("pending operation syncer", c.serveSync)
		if len(ops) != 0 {
			c.signal()
		}
	}
	if len(ops) != 0 {
		log.WithFields(log.Fields{"pending": len(ops), "endpoint": cache.Endpoint()}).
			Info("loaded pending operations")
	}
	return c, bootErr
}

// Execute a statement against the local store and, if it succeeds, queue
// it for replay against the remote. It returns the number of rows affected
// locally. Local failures are returned and nothing is queued.
func (c *Conn) Execute(ctx context.Context, query string, p params.Params) (int64, error) {
	var n, err = c.local.Execute(ctx, query, p)
	if err != nil {
		return 0, err
	}
	c.queueOperation(ctx, oplog.Operation{SQL: query, Params: p, Kind: oplog.Execute})
	return n, nil
}

// ExecuteBatch executes multi-statement SQL text against the local store
// and, if it succeeds, queues the text verbatim for remote replay.
func (c *Conn) ExecuteBatch(ctx context.Context, batch string) (bool, error) {
	if err := c.local.ExecuteBatch(ctx, batch); err != nil {
		return false, err
	}
	c.queueOperation(ctx, oplog.Operation{SQL: batch, Kind: oplog.ExecuteBatch})
	return true, nil
}

// queueOperation durably logs |op| and appends it to the in-memory queue,
// and then takes the opportunity to sync. A failure to log |op| is
// logged and otherwise ignored: |op| is still queued, but won't survive
// a restart.
func (c *Conn) queueOperation(ctx context.Context, op oplog.Operation) {
	op.EnqueuedAt = time.Now()

	var id, err = c.log.Persist(ctx, op)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "sql": op.SQL}).
			Warn("failed to durably log pending operation")
		persistFailuresTotal.Inc()
		id = 0
	}
	op.ID = id

	c.mu.Lock()
	c.pending = append(c.pending, op)
	c.mu.Unlock()

	opsEnqueuedTotal.WithLabelValues(op.Kind.String()).Inc()

	switch c.mode {
	case SyncInline:
		if c.cache.IsOnline(ctx) {
			_, _ = c.SyncPendingOperations(ctx)
		}
	default:
		c.signal()
	}
}

// Query the local store or, if |forceRemote| and the remote is reachable,
// the remote store.
func (c *Conn) Query(ctx context.Context, query string, p params.Params, forceRemote bool) (*sql.Rows, error) {
	if forceRemote && c.cache.IsOnline(ctx) {
		return c.remote.Query(ctx, query, p)
	}
	return c.local.Query(ctx, query, p)
}

// Prepare a statement against the local store. Writes issued through a
// prepared statement bypass the pending operation log and aren't replayed.
func (c *Conn) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.local.Prepare(ctx, query)
}

// SyncPendingOperations replays all queued operations against the remote,
// in FIFO order, returning the number which were replayed. It returns
// ErrOffline if the remote isn't reachable.
//
// Each replayed operation is removed from the durable log. Operations which
// fail to replay are retained for a future pass, ahead of any operations
// queued while this pass was underway. Passes are serialized.
func (c *Conn) SyncPendingOperations(ctx context.Context) (int, error) {
	if !c.cache.IsOnline(ctx) {
		syncPassesTotal.WithLabelValues("offline").Inc()
		return 0, ErrOffline
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	var ops = c.pending
	c.pending = nil
	c.mu.Unlock()

	var synced int
	var failed []oplog.Operation

	for _, op := range ops {
		if err := c.replay(ctx, op); err != nil {
			log.WithFields(log.Fields{
				"err":  err,
				"id":   op.ID,
				"kind": op.Kind,
				"sql":  op.SQL,
			}).Warn("failed to replay pending operation")
			opsFailedTotal.Inc()
			failed = append(failed, op)
			continue
		}
		if op.ID != 0 {
			c.log.Remove(ctx, op.ID)
		}
		synced++
		opsSyncedTotal.Inc()
	}

	if len(failed) != 0 {
		c.mu.Lock()
		c.pending = append(failed, c.pending...)
		c.mu.Unlock()
		syncPassesTotal.WithLabelValues("partial").Inc()
	} else {
		syncPassesTotal.WithLabelValues("complete").Inc()
	}
	if synced != 0 || len(failed) != 0 {
		log.WithFields(log.Fields{
			"synced":   synced,
			"failed":   len(failed),
			"endpoint": c.cache.Endpoint(),
		}).Debug("sync pass complete")
	}
	return synced, nil
}

func (c *Conn) replay(ctx context.Context, op oplog.Operation) error {
	switch op.Kind {
	case oplog.ExecuteBatch:
		return c.remote.ExecuteBatch(ctx, op.SQL)
	default:
		var _, err = c.remote.Execute(ctx, op.SQL, op.Params)
		return err
	}
}

// ManualSync bootstraps the local store, if it hasn't been, and then syncs
// pending operations. It returns a summary of synced and remaining
// operations, or ErrOffline if the remote isn't reachable.
func (c *Conn) ManualSync(ctx context.Context) (string, error) {
	if !c.cache.IsOnline(ctx) {
		return "", ErrOffline
	}
	if err := c.boot.Run(ctx); err != nil {
		log.WithField("err", err).Warn("bootstrap failed during manual sync")
	}
	var n, err = c.SyncPendingOperations(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Synced %d operations, %d remaining", n, c.PendingOperationsCount()), nil
}

// CheckConnectivity probes the remote, bypassing (and then refreshing) the
// cached probe result.
func (c *Conn) CheckConnectivity(ctx context.Context) bool {
	return c.cache.CheckConnectivity(ctx)
}

// IsOnline returns whether the remote is reachable, using a cached result
// if a recent one is available.
func (c *Conn) IsOnline(ctx context.Context) bool { return c.cache.IsOnline(ctx) }

// PendingOperationsCount returns the number of queued operations.
func (c *Conn) PendingOperationsCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingOperations returns a snapshot of queued operations, in FIFO order.
// Operations of an in-progress sync pass aren't included.
func (c *Conn) PendingOperations() []oplog.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]oplog.Operation(nil), c.pending...)
}

// Bootstrapped returns whether the local store completed its initial clone.
func (c *Conn) Bootstrapped(ctx context.Context) (bool, error) { return c.boot.Done(ctx) }

// Changes returns the number of rows changed by the most recent statement
// of the remote if it's reachable, or of the local store otherwise.
func (c *Conn) Changes(ctx context.Context) int64 { return c.routed(ctx).Changes() }

// TotalChanges is routed as Changes is.
func (c *Conn) TotalChanges(ctx context.Context) int64 { return c.routed(ctx).TotalChanges() }

// LastInsertRowID is routed as Changes is.
func (c *Conn) LastInsertRowID(ctx context.Context) int64 { return c.routed(ctx).LastInsertRowID() }

// IsAutocommit is routed as Changes is.
func (c *Conn) IsAutocommit(ctx context.Context) bool { return c.routed(ctx).IsAutocommit() }

func (c *Conn) routed(ctx context.Context) store.Store {
	if c.cache.IsOnline(ctx) {
		return c.remote
	}
	return c.local
}

// Reset the remote store (if reachable) and then the local store, discarding
// connection state such as open transactions. Queued operations are retained,
// including those of an in-memory local store (see store.SQLStore.Reset).
func (c *Conn) Reset(ctx context.Context) error {
	if c.cache.IsOnline(ctx) {
		if err := c.remote.Reset(ctx); err != nil {
			return errors.WithMessage(err, "resetting remote")
		}
	}
	return errors.WithMessage(c.local.Reset(ctx), "resetting local")
}

// Close stops background replay, and closes the local and remote stores.
// Operations which remain queued are replayed after the local store is
// next opened.
func (c *Conn) Close() error {
	if err := c.tasks.Stop(); err != nil {
		log.WithField("err", err).Warn("background syncer exited with error")
	}
	var err = c.remote.Close()
	if lErr := c.local.Close(); err == nil {
		err = lErr
	}
	return err
}

// Local returns the local store of the Conn.
func (c *Conn) Local() *store.SQLStore { return c.local }

// Remote returns the remote store of the Conn.
func (c *Conn) Remote() store.Store { return c.remote }

// Endpoint returns the normalized endpoint probed for reachability.
func (c *Conn) Endpoint() string { return c.cache.Endpoint() }

// Package connection opens a Connection in one of four modes (local, remote,
// remote replica, or offline write) as selected by a Config. Connections are
// owned by their caller: there's no process-wide registry of them.
package connection

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.sqlbridge.dev/core/auth"
	"go.sqlbridge.dev/core/offline"
	"go.sqlbridge.dev/core/params"
	"go.sqlbridge.dev/core/store"
)

// Connection is a logical database connection.
type Connection interface {
	// ID uniquely identifies the Connection within logs.
	ID() string
	Mode() Mode

	Execute(ctx context.Context, query string, p params.Params) (int64, error)
	ExecuteBatch(ctx context.Context, batch string) error
	Query(ctx context.Context, query string, p params.Params) (*sql.Rows, error)
	Prepare(ctx context.Context, query string) (*sql.Stmt, error)

	Changes(ctx context.Context) int64
	TotalChanges(ctx context.Context) int64
	LastInsertRowID(ctx context.Context) int64
	IsAutocommit(ctx context.Context) bool

	// Reset discards connection state, such as open transactions.
	Reset(ctx context.Context) error
	// Sync brings the Connection up to date with its remote (if any),
	// returning a human-readable summary.
	Sync(ctx context.Context) (string, error)
	Close() error
}

var connectionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sqlbridge_connections_open",
	Help: "Number of open connections, by mode.",
}, []string{"mode"})

// Open a Connection of the Mode selected by |cfg|. An offline-write
// Connection whose bootstrap failed is returned along with an error
// matching offline.ErrBootstrap, and is usable.
func Open(ctx context.Context, cfg Config) (Connection, error) {
	var mode, err = DetectMode(cfg)
	if err != nil {
		return nil, err
	}
	var id = uuid.New().String()
	var conn Connection

	if mode != ModeLocal {
		auth.CheckToken(cfg.AuthToken, log.Fields{"conn": id, "mode": mode})
	}

	switch mode {
	case ModeLocal:
		var s *store.SQLStore
		if s, err = store.OpenLocal(ctx, localConfig(cfg, cfg.URL)); err == nil {
			conn = &storeConn{id: id, mode: mode, s: s}
		}
	case ModeRemote:
		var s *store.SQLStore
		if s, err = store.OpenRemote(ctx, cfg.URL, cfg.AuthToken); err == nil {
			conn = &storeConn{id: id, mode: mode, s: s}
		}
	case ModeReplica:
		var rc *replicaConn
		if rc, err = openReplica(ctx, id, cfg); err == nil {
			conn = rc
		}
	case ModeOfflineWrite:
		var oc *offline.Conn
		oc, err = offline.Open(ctx, cfg.OfflineConfig())
		if oc != nil {
			conn = &offlineConn{id: id, Conn: oc}
		}
	}
	if conn == nil {
		return nil, err
	}

	connectionsOpen.WithLabelValues(string(mode)).Inc()
	log.WithFields(log.Fields{"conn": id, "mode": mode}).Debug("opened connection")
	return conn, err
}

// OfflineConfig returns the offline.Config of an offline-write Config.
func (cfg Config) OfflineConfig() offline.Config {
	return offline.Config{
		LocalPath:     cfg.URL,
		LocalFlags:    cfg.Flags,
		LocalDriver:   cfg.LocalDriver,
		EncryptionKey: cfg.EncryptionKey,
		RemoteURL:     cfg.SyncURL,
		AuthToken:     cfg.AuthToken,
		SyncMode:      cfg.SyncMode,
	}
}

func localConfig(cfg Config, path string) store.LocalConfig {
	return store.LocalConfig{
		Path:          path,
		Flags:         cfg.Flags,
		EncryptionKey: cfg.EncryptionKey,
		Driver:        cfg.LocalDriver,
	}
}

func closed(id string, mode Mode) {
	connectionsOpen.WithLabelValues(string(mode)).Dec()
	log.WithFields(log.Fields{"conn": id, "mode": mode}).Debug("closed connection")
}

// storeConn is a local or remote Connection, which passes through to a Store.
type storeConn struct {
	id   string
	mode Mode
	s    store.Store
}

func (c *storeConn) ID() string { return c.id }
func (c *storeConn) Mode() Mode { return c.mode }

func (c *storeConn) Execute(ctx context.Context, query string, p params.Params) (int64, error) {
	return c.s.Execute(ctx, query, p)
}

func (c *storeConn) ExecuteBatch(ctx context.Context, batch string) error {
	return c.s.ExecuteBatch(ctx, batch)
}

func (c *storeConn) Query(ctx context.Context, query string, p params.Params) (*sql.Rows, error) {
	return c.s.Query(ctx, query, p)
}

func (c *storeConn) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.s.Prepare(ctx, query)
}

func (c *storeConn) Changes(context.Context) int64         { return c.s.Changes() }
func (c *storeConn) TotalChanges(context.Context) int64    { return c.s.TotalChanges() }
func (c *storeConn) LastInsertRowID(context.Context) int64 { return c.s.LastInsertRowID() }
func (c *storeConn) IsAutocommit(context.Context) bool     { return c.s.IsAutocommit() }
func (c *storeConn) Reset(ctx context.Context) error       { return c.s.Reset(ctx) }

// Sync is a no-op, as there's nothing to sync with.
func (c *storeConn) Sync(context.Context) (string, error) { return "Nothing to sync", nil }

func (c *storeConn) Close() error {
	closed(c.id, c.mode)
	return c.s.Close()
}

// offlineConn adapts an *offline.Conn to Connection.
type offlineConn struct {
	id string
	*offline.Conn
}

func (c *offlineConn) ID() string { return c.id }
func (c *offlineConn) Mode() Mode { return ModeOfflineWrite }

func (c *offlineConn) ExecuteBatch(ctx context.Context, batch string) error {
	var _, err = c.Conn.ExecuteBatch(ctx, batch)
	return err
}

// Query the local store. Use Offline().Query to read from the remote.
func (c *offlineConn) Query(ctx context.Context, query string, p params.Params) (*sql.Rows, error) {
	return c.Conn.Query(ctx, query, p, false)
}

func (c *offlineConn) Sync(ctx context.Context) (string, error) { return c.Conn.ManualSync(ctx) }

func (c *offlineConn) Close() error {
	closed(c.id, ModeOfflineWrite)
	return c.Conn.Close()
}

// Offline returns the underlying *offline.Conn.
func (c *offlineConn) Offline() *offline.Conn { return c.Conn }

// Offline returns the *offline.Conn of an offline-write Connection,
// or nil if |conn| is of another Mode.
func Offline(conn Connection) *offline.Conn {
	if oc, ok := conn.(interface{ Offline() *offline.Conn }); ok {
		return oc.Offline()
	}
	return nil
}

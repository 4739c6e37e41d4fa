package mainboilerplate

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.sqlbridge.dev/core/connection"
	"go.sqlbridge.dev/core/offline"
	"go.sqlbridge.dev/core/store"
)

// DatabaseConfig configures a database connection.
type DatabaseConfig struct {
	URL            string        `long:"url" env:"URL" default:"file:sqlbridge.db" description:"Database URL. Local databases are 'file:' prefixed or ':memory:'; remote databases are libsql://, http:// or https://"`
	AuthToken      string        `long:"auth-token" env:"AUTH_TOKEN" description:"Authentication token of the remote database"`
	SyncURL        string        `long:"sync-url" env:"SYNC_URL" description:"URL of the remote database of a replica or offline-write connection"`
	SyncInterval   time.Duration `long:"sync-interval" env:"SYNC_INTERVAL" default:"0s" description:"Interval of periodic replica refreshes. Zero disables them"`
	EncryptionKey  string        `long:"encryption-key" env:"ENCRYPTION_KEY" description:"Encryption key of the local database"`
	Flags          int           `long:"flags" env:"FLAGS" default:"6" description:"Open flags of the local database (1: read-only, 2: read-write, 4: create)"`
	OfflineWrites  bool          `long:"offline-writes" env:"OFFLINE_WRITES" description:"Write locally and replay writes to --sync-url while it's reachable"`
	ReadYourWrites bool          `long:"read-your-writes" env:"READ_YOUR_WRITES" description:"Apply replica writes to the local replica as well as the remote"`
	LocalDriver    string        `long:"local-driver" env:"LOCAL_DRIVER" default:"sqlite3" choice:"sqlite3" choice:"sqlite" description:"database/sql driver of local databases (sqlite3: cgo SQLite, sqlite: pure-Go SQLite)"`
	SyncMode       string        `long:"sync-mode" env:"SYNC_MODE" default:"background" choice:"background" choice:"inline" description:"Whether offline writes are replayed by a background worker, or within the writing call. Configurations of one-shot commands (see OneShot) always replay within the writing call"`
}

// ConnectionConfig returns the connection.Config of the DatabaseConfig.
func (c *DatabaseConfig) ConnectionConfig() (connection.Config, error) {
	var mode, err = connection.ParseSyncMode(c.SyncMode)
	if err != nil {
		return connection.Config{}, err
	}
	return connection.Config{
		URL:            c.URL,
		AuthToken:      c.AuthToken,
		SyncURL:        c.SyncURL,
		SyncInterval:   c.SyncInterval,
		EncryptionKey:  c.EncryptionKey,
		Flags:          store.OpenFlags(c.Flags),
		OfflineWrites:  c.OfflineWrites,
		ReadYourWrites: c.ReadYourWrites,
		LocalDriver:    c.LocalDriver,
		SyncMode:       mode,
	}, nil
}

// OneShot returns a copy of the DatabaseConfig suited to a process which
// exits after completing its work. Pending operations of an offline-write
// connection are replayed within the writing call, rather than by a
// background worker which may be interrupted by the exit.
func (c DatabaseConfig) OneShot() DatabaseConfig {
	c.SyncMode = "inline"
	return c
}

// MustOpen opens the configured connection.Connection. A failure to
// bootstrap an offline-write connection is logged, and the connection
// is returned for local-only use.
func (c *DatabaseConfig) MustOpen(ctx context.Context) connection.Connection {
	var cfg, err = c.ConnectionConfig()
	Must(err, "invalid database configuration")

	conn, err := connection.Open(ctx, cfg)
	if conn != nil && errors.Is(err, offline.ErrBootstrap) {
		log.WithField("err", err).Warn("opened database without initial sync")
		err = nil
	}
	Must(err, "failed to open database", "url", c.URL)
	return conn
}

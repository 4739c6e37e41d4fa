package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3" // Registers the "sqlite3" driver.
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Registers the "libsql" driver.
	"go.sqlbridge.dev/core/params"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver.
)

// Names of database/sql drivers registered by this package.
const (
	// DriverSQLite3 is github.com/mattn/go-sqlite3 (cgo). It's the default local driver.
	DriverSQLite3 = "sqlite3"
	// DriverModernc is modernc.org/sqlite, a pure-Go translation of SQLite.
	DriverModernc = "sqlite"
	// DriverLibSQL is github.com/tursodatabase/libsql-client-go, which speaks
	// the libSQL remote protocol over HTTP or websockets.
	DriverLibSQL = "libsql"
)

// OpenFlags control how a local database file is opened.
type OpenFlags int

const (
	OpenReadOnly  OpenFlags = 1
	OpenReadWrite OpenFlags = 2
	OpenCreate    OpenFlags = 4

	DefaultOpenFlags = OpenReadWrite | OpenCreate
)

// mode maps OpenFlags to a SQLite URI "mode" parameter. A zero value
// uses DefaultOpenFlags.
func (f OpenFlags) mode() string {
	if f == 0 {
		f = DefaultOpenFlags
	}
	switch {
	case f&OpenReadOnly != 0 && f&OpenReadWrite == 0:
		return "ro"
	case f&OpenCreate != 0:
		return "rwc"
	default:
		return "rw"
	}
}

// LocalConfig configures a local, embedded database.
type LocalConfig struct {
	// Path of the database, optionally prefixed with "file:". A path
	// containing ":memory:" opens an in-memory database.
	Path string
	// Flags of the opened file. If zero, DefaultOpenFlags is used.
	Flags OpenFlags
	// EncryptionKey is issued as "PRAGMA key" after opening. It takes effect
	// only where the driver is built against an encrypting SQLite variant
	// (eg, SQLCipher); stock SQLite ignores the pragma.
	EncryptionKey string
	// Driver is a registered database/sql driver name. If empty,
	// DriverSQLite3 is used.
	Driver string
}

// DSN returns the data source name of the LocalConfig.
func (cfg LocalConfig) DSN() string {
	var path = strings.TrimPrefix(cfg.Path, "file:")
	if strings.Contains(path, ":memory:") {
		return path
	}
	var q = url.Values{"mode": {cfg.Flags.mode()}}

	if cfg.driver() == DriverModernc {
		q.Set("_pragma", "busy_timeout(5000)")
	} else {
		q.Set("_busy_timeout", "5000")
	}
	if i := strings.IndexByte(path, '?'); i != -1 {
		// Preserve caller-provided URI parameters, which take precedence.
		if extra, err := url.ParseQuery(path[i+1:]); err == nil {
			for k, v := range extra {
				q[k] = v
			}
		}
		path = path[:i]
	}
	return "file:" + path + "?" + q.Encode()
}

func (cfg LocalConfig) driver() string {
	if cfg.Driver == "" {
		return DriverSQLite3
	}
	return cfg.Driver
}

// OpenLocal opens the local database described by |cfg|.
func OpenLocal(ctx context.Context, cfg LocalConfig) (*SQLStore, error) {
	var dsn = cfg.DSN()
	var s, err = Open(ctx, "local", cfg.driver(), dsn)
	if err != nil {
		return nil, err
	}
	s.memory = strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	if cfg.EncryptionKey != "" {
		var pragma = fmt.Sprintf("PRAGMA key = %s", params.Str(cfg.EncryptionKey))
		if _, err = s.Execute(ctx, pragma, params.None()); err != nil {
			_ = s.Close()
			return nil, errors.WithMessage(err, "local: applying encryption key")
		}
	}
	return s, nil
}

// RemoteDSN composes a remote database |rawURL| and |authToken| into a DSN
// of the libsql driver.
func RemoteDSN(rawURL, authToken string) (string, error) {
	var u, err = url.Parse(rawURL)
	if err != nil {
		return "", errors.WithMessagef(err, "parsing remote URL %q", rawURL)
	}
	if authToken != "" {
		var q = u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// OpenRemote opens the remote libSQL database at |rawURL|.
func OpenRemote(ctx context.Context, rawURL, authToken string) (*SQLStore, error) {
	var dsn, err = RemoteDSN(rawURL, authToken)
	if err != nil {
		return nil, err
	}
	return Open(ctx, "remote", DriverLibSQL, dsn)
}

// Open a SQLStore named |name| using a registered database/sql driver.
func Open(ctx context.Context, name, driverName, dsn string) (*SQLStore, error) {
	var db, err = sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: opening %s database", name, driverName)
	}
	s, err := NewSQLStore(ctx, name, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.WithFields(log.Fields{"store": name, "driver": driverName}).Debug("opened store")
	return s, nil
}

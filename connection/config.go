package connection

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.sqlbridge.dev/core/offline"
	"go.sqlbridge.dev/core/store"
)

// ErrInvalidConfig is returned for configurations which match no Mode.
var ErrInvalidConfig = errors.New("invalid configuration")

// Mode of a Connection.
type Mode string

const (
	// ModeLocal is an embedded database only.
	ModeLocal Mode = "local"
	// ModeRemote is a remote libSQL database only.
	ModeRemote Mode = "remote"
	// ModeReplica reads from a local replica of a remote database, and writes
	// to the remote.
	ModeReplica Mode = "remote_replica"
	// ModeOfflineWrite reads and writes a local database, and replays writes
	// to a remote database while it's reachable. See package offline.
	ModeOfflineWrite Mode = "offline_write"
)

// Config of a Connection. Field names follow the keys accepted by
// ConfigFromMap.
type Config struct {
	// URL is a local database ("file:" prefixed, or containing ":memory:"),
	// or a remote database (libsql://, http:// or https://).
	URL string
	// AuthToken of the remote database.
	AuthToken string
	// SyncURL of the remote database of a replica or offline-write Connection.
	SyncURL string
	// SyncInterval of periodic replica refreshes. Zero disables them.
	SyncInterval time.Duration
	// EncryptionKey of a local database.
	EncryptionKey string
	// Flags by which a local database is opened.
	Flags store.OpenFlags
	// OfflineWrites selects ModeOfflineWrite for a local URL having a SyncURL.
	OfflineWrites bool
	// ReadYourWrites applies replica writes to the local replica as well
	// as the remote, so that they're immediately visible to reads.
	ReadYourWrites bool
	// LocalDriver is the database/sql driver of local databases.
	// If empty, store.DriverSQLite3 is used.
	LocalDriver string
	// SyncMode of an offline-write Connection.
	SyncMode offline.SyncMode
}

// ConfigFromMap builds a Config from string |values|, keyed on "url",
// "authToken", "syncUrl", "syncInterval", "encryptionKey", "flags",
// "offlineWrites", "readYourWrites", "localDriver" and "syncMode".
// Unknown keys are ignored.
//
// "syncInterval" is a Go duration or a number of seconds, and "syncMode" is
// "background" (the default) or "inline".
func ConfigFromMap(values map[string]string) (Config, error) {
	var cfg = Config{
		URL:           values["url"],
		AuthToken:     values["authToken"],
		SyncURL:       values["syncUrl"],
		EncryptionKey: values["encryptionKey"],
		LocalDriver:   values["localDriver"],
	}
	var err error

	if s := values["syncInterval"]; s != "" {
		if cfg.SyncInterval, err = parseInterval(s); err != nil {
			return Config{}, errors.WithMessage(err, "syncInterval")
		}
	}
	if s := values["flags"]; s != "" {
		var n int
		if n, err = strconv.Atoi(s); err != nil {
			return Config{}, errors.WithMessage(err, "flags")
		}
		cfg.Flags = store.OpenFlags(n)
	}
	for key, dst := range map[string]*bool{
		"offlineWrites":  &cfg.OfflineWrites,
		"readYourWrites": &cfg.ReadYourWrites,
	} {
		if s := values[key]; s != "" {
			if *dst, err = strconv.ParseBool(s); err != nil {
				return Config{}, errors.WithMessage(err, key)
			}
		}
	}
	if cfg.SyncMode, err = ParseSyncMode(values["syncMode"]); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseSyncMode parses "background" (or empty) and "inline".
func ParseSyncMode(s string) (offline.SyncMode, error) {
	switch strings.ToLower(s) {
	case "", "background":
		return offline.SyncBackground, nil
	case "inline":
		return offline.SyncInline, nil
	default:
		return 0, errors.Errorf("syncMode: expected \"background\" or \"inline\" (got %q)", s)
	}
}

func parseInterval(s string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// DetectMode returns the Mode selected by |cfg|, or ErrInvalidConfig.
func DetectMode(cfg Config) (Mode, error) {
	var local = strings.HasPrefix(cfg.URL, "file:") || strings.Contains(cfg.URL, ":memory:")

	switch {
	case local && cfg.OfflineWrites && isRemoteURL(cfg.SyncURL):
		return ModeOfflineWrite, nil
	case strings.HasPrefix(cfg.URL, "file:") && cfg.AuthToken != "" && isRemoteURL(cfg.SyncURL):
		return ModeReplica, nil
	case isRemoteURL(cfg.URL) && cfg.AuthToken != "":
		return ModeRemote, nil
	case local:
		return ModeLocal, nil
	default:
		return "", errors.WithMessagef(ErrInvalidConfig, "no mode matches url %q", cfg.URL)
	}
}

func isRemoteURL(s string) bool {
	for _, prefix := range []string{"libsql://", "http://", "https://"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

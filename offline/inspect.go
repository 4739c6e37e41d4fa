package offline

import (
	"context"

	"github.com/pkg/errors"
	"go.sqlbridge.dev/core/bootstrap"
	"go.sqlbridge.dev/core/oplog"
	"go.sqlbridge.dev/core/probe"
	"go.sqlbridge.dev/core/store"
)

// Status of an offline-write database, as observed by Inspect.
type Status struct {
	Endpoint     string
	Online       bool
	Bootstrapped bool
	// Pending operations, in replay order.
	Pending []oplog.Operation
}

// Inspect reports the Status of the offline-write database of |cfg|
// without modifying it. The local database is opened read-only, the remote
// is only probed for reachability, and nothing is bootstrapped or replayed.
// cfg.LocalFlags and cfg.SyncMode are ignored.
func Inspect(ctx context.Context, cfg Config) (Status, error) {
	var cache, err = probe.Shared(cfg.RemoteURL)
	if err != nil {
		return Status{}, errors.WithMessage(err, "remote sync endpoint")
	}
	local, err := store.OpenLocal(ctx, store.LocalConfig{
		Path:          cfg.LocalPath,
		Flags:         store.OpenReadOnly,
		EncryptionKey: cfg.EncryptionKey,
		Driver:        cfg.LocalDriver,
	})
	if err != nil {
		return Status{}, err
	}
	defer local.Close()

	return inspect(ctx, local, cache)
}

func inspect(ctx context.Context, local *store.SQLStore, cache *probe.Cache) (Status, error) {
	var st = Status{
		Endpoint: cache.Endpoint(),
		Online:   cache.CheckConnectivity(ctx),
	}
	var l = oplog.New(local)

	if ok, err := l.Exists(ctx); err != nil || !ok {
		return st, err
	}
	var value, _, err = l.Metadata(ctx, bootstrap.DoneKey)
	if err != nil {
		return st, err
	}
	st.Bootstrapped = value == "true"

	st.Pending, err = l.LoadAll(ctx)
	return st, err
}

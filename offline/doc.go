// Package offline implements a Conn which is backed by both a local embedded
// store and a remote store, and which accepts writes regardless of whether
// the remote is reachable.
//
// Every write is applied to the local store first. If that succeeds, the
// write is appended to a durable log of pending operations (kept in reserved
// tables of the local store) and to an in-memory queue mirroring the log.
// Pending operations are replayed against the remote in FIFO order once it's
// reachable, and are removed from the log only after the remote confirms
// each one. Reads are served locally unless a remote read is requested and
// the remote is reachable.
//
// On first use with a reachable remote, the local store is bootstrapped with
// a clone of the remote schema and data (see package bootstrap).
//
// No conflict resolution is attempted. Concurrent writers to the same rows
// from independent Conns may produce divergent or overwritten remote state.
package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlbridge_offline_ops_enqueued_total",
		Help: "Cumulative number of operations applied locally and queued for remote replay, by kind.",
	}, []string{"kind"})
	opsSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlbridge_offline_ops_synced_total",
		Help: "Cumulative number of pending operations replayed to the remote.",
	})
	opsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlbridge_offline_ops_failed_total",
		Help: "Cumulative number of failed remote replays of pending operations.",
	})
	syncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlbridge_offline_sync_passes_total",
		Help: "Cumulative number of pending operation sync passes, by outcome.",
	}, []string{"outcome"})
	persistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlbridge_offline_persist_failures_total",
		Help: "Cumulative number of pending operations which could not be durably logged.",
	})
)

// Package task runs the background workers of a connection, such as its
// pending-operation syncer or a periodic replica refresh.
package task

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group is a set of background workers which share a Context, and which are
// stopped and waited on together. Workers should monitor the Context and
// return upon its cancellation. The first worker to return a non-nil error
// cancels the Group.
//
// Unlike a plain errgroup.Group, workers may be started at any time before
// Stop, and a Group is safe for concurrent use.
type Group struct {
	// Context of the Group, which is cancelled by:
	//  * Any worker of the Group returning non-nil error, or
	//  * A call to Stop, or
	//  * A cancellation of the parent Context of the Group.
	ctx      context.Context
	cancelFn context.CancelFunc

	eg      *errgroup.Group
	names   []string
	stopped bool
	mu      sync.Mutex // Guards |names| and |stopped|.
}

// NewGroup returns a new, empty Group deriving from |ctx|.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, eg: eg, cancelFn: cancel}
}

// Context of the Group.
func (g *Group) Context() context.Context { return g.ctx }

// Go starts |fn| as a worker of the Group, described by |name|.
// It returns false (and does not start |fn|) if the Group was stopped.
func (g *Group) Go(name string, fn func(ctx context.Context) error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return false
	}
	g.names = append(g.names, name)

	g.eg.Go(func() error {
		var err = fn(g.ctx)
		if err != nil && g.ctx.Err() == nil {
			log.WithFields(log.Fields{"task": name, "err": err}).Warn("background task failed")
		}
		return errors.WithMessage(err, name)
	})
	return true
}

// Names of workers started with the Group.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.names...)
}

// Stop cancels the Group Context and waits for all workers to exit,
// returning the first non-nil worker error. Stop may be called multiple
// times, and further calls to Go after Stop are no-ops.
func (g *Group) Stop() error {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()

	g.cancelFn()
	return g.eg.Wait()
}

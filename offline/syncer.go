package offline

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// signal wakes the background syncer, without blocking.
func (c *Conn) signal() {
	select {
	case c.signalCh <- struct{}{}:
	default: // Already signaled.
	}
}

// serveSync is the background worker of a SyncBackground Conn. Upon each
// signal, it replays pending operations until none remain. While the remote
// is unreachable or replays fail, it re-attempts with increasing backoff.
func (c *Conn) serveSync(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.signalCh:
		}

		for attempt := 0; c.PendingOperationsCount() != 0; attempt++ {
			if c.cache.IsOnline(ctx) {
				if _, err := c.SyncPendingOperations(ctx); err != nil && ctx.Err() == nil {
					log.WithField("err", err).Debug("background sync pass failed")
				}
				if c.PendingOperationsCount() == 0 {
					break
				}
			}

			select {
			case <-ctx.Done():
				return nil
			case <-c.signalCh:
				// A write arrived; retry without waiting out the backoff.
			case <-time.After(syncBackoff(attempt)):
			}
		}
	}
}

// syncBackoff returns the delay before a re-attempt of a sync pass which left
// operations pending.
func syncBackoff(attempt int) time.Duration {
	switch attempt {
	case 0, 1:
		return 100 * time.Millisecond
	case 2, 3:
		return time.Second
	case 4, 5:
		return 5 * time.Second
	default:
		return 30 * time.Second
	}
}

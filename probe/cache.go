package probe

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CacheWindow is the duration for which a probe result is reused.
const CacheWindow = 5 * time.Second

// Cache bounds the rate of reachability probes against one endpoint. It
// remembers the latest probe result and when it was taken, and re-probes
// only once that result is older than CacheWindow. A Cache is safe for
// concurrent use: concurrent callers which find the result stale share a
// single in-flight probe, and no lock is held while it's on the network.
type Cache struct {
	endpoint string
	prober   Prober

	flight    singleflight.Group
	checkedAt time.Time
	result    bool
	valid     bool
	mu        sync.Mutex // Guards |checkedAt|, |result| and |valid|.
}

// NewCache returns a Cache of the normalized |endpoint| using Prober |p|.
func NewCache(endpoint string, p Prober) *Cache {
	return &Cache{endpoint: endpoint, prober: p}
}

// Endpoint probed by the Cache.
func (c *Cache) Endpoint() string { return c.endpoint }

// IsOnline returns the cached probe result if it's younger than
// CacheWindow, and otherwise probes the endpoint and caches the result.
func (c *Cache) IsOnline(ctx context.Context) bool {
	c.mu.Lock()
	if c.valid && timeNow().Sub(c.checkedAt) < CacheWindow {
		var result = c.result
		c.mu.Unlock()
		return result
	}
	c.mu.Unlock()

	var v, _, _ = c.flight.Do("probe", func() (interface{}, error) {
		// Re-check: another caller may have refreshed the result while we
		// were waiting to enter the flight.
		c.mu.Lock()
		if c.valid && timeNow().Sub(c.checkedAt) < CacheWindow {
			var result = c.result
			c.mu.Unlock()
			return result, nil
		}
		c.mu.Unlock()

		return c.probe(ctx), nil
	})
	return v.(bool)
}

// CheckConnectivity probes the endpoint without consulting the cached
// result, and then caches the outcome.
func (c *Cache) CheckConnectivity(ctx context.Context) bool {
	var v, _, _ = c.flight.Do("check", func() (interface{}, error) {
		return c.probe(ctx), nil
	})
	return v.(bool)
}

// Last returns the most recent probe result and when it was taken.
// |ok| is false if no probe has completed.
func (c *Cache) Last() (result bool, at time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.checkedAt, c.valid
}

func (c *Cache) probe(ctx context.Context) bool {
	var result = c.prober.Probe(ctx, c.endpoint)

	c.mu.Lock()
	var prior, known = c.result, c.valid
	c.checkedAt, c.result, c.valid = timeNow(), result, true
	c.mu.Unlock()

	if known && prior != result {
		log.WithFields(log.Fields{"endpoint": c.endpoint, "online": result}).Info("remote connectivity changed")
	}
	return result
}

// Shared returns the process-wide Cache of the remote database URL |raw|,
// which probes using an HTTPProber. Caches are keyed on the normalized
// endpoint, so distinct connections to the same remote share one Cache.
func Shared(raw string) (*Cache, error) {
	var endpoint, err = NormalizeEndpoint(raw)
	if err != nil {
		return nil, err
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if v, ok := shared.Get(endpoint); ok {
		return v.(*Cache), nil
	}
	var c = NewCache(endpoint, HTTPProber{})
	shared.Add(endpoint, c)
	return c, nil
}

const sharedCacheSize = 256

var (
	shared   *lru.Cache
	sharedMu sync.Mutex // Serializes get-or-create of |shared| entries.
)

func init() {
	var err error
	if shared, err = lru.New(sharedCacheSize); err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
}

var timeNow = time.Now

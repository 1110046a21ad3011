package api

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"marketdash/internal/eventbus"
)

const cacheKeyPrefix = "marketdash:dashboard:"

// DashboardCache caches rendered dashboard responses in Redis, keyed by
// owner and query-string hash. A nil Redis client disables caching; every
// method degrades to a pass-through so callers never branch on it.
type DashboardCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logrus.Entry
}

func NewDashboardCache(rdb *redis.Client, ttl time.Duration, log *logrus.Logger) *DashboardCache {
	return &DashboardCache{
		rdb: rdb,
		ttl: ttl,
		log: log.WithField("component", "cache"),
	}
}

func cacheKey(ownerID int64, query string) string {
	sum := md5.Sum([]byte(query))
	return fmt.Sprintf("%s%d:%s", cacheKeyPrefix, ownerID, hex.EncodeToString(sum[:]))
}

func (c *DashboardCache) Get(ctx context.Context, ownerID int64, query string) ([]byte, bool) {
	if c.rdb == nil {
		return nil, false
	}
	body, err := c.rdb.Get(ctx, cacheKey(ownerID, query)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("cache read failed")
		}
		return nil, false
	}
	return body, true
}

// Set marshals the response, stores it under the owner's key and returns
// the bytes so the caller writes exactly what later cache hits will serve.
// Cache write failures are logged and ignored.
func (c *DashboardCache) Set(ctx context.Context, ownerID int64, query string, body interface{}) []byte {
	payload, err := json.Marshal(body)
	if err != nil {
		c.log.WithError(err).Error("marshal dashboard response")
		return nil
	}
	payload = append(payload, '\n')
	if c.rdb == nil {
		return payload
	}
	if err := c.rdb.Set(ctx, cacheKey(ownerID, query), payload, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("cache write failed")
	}
	return payload
}

// InvalidateOwner drops every cached response for one owner. Called when
// the owner's underlying rows change: job completion, dataset or job
// deletion, ad-spend writes.
func (c *DashboardCache) InvalidateOwner(ctx context.Context, ownerID int64) {
	if c.rdb == nil {
		return
	}
	pattern := fmt.Sprintf("%s%d:*", cacheKeyPrefix, ownerID)
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.WithError(err).Warn("cache invalidate failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Warn("cache scan failed")
	}
}

// Watch invalidates owners whose jobs reach a terminal state, so dashboards
// reflect freshly ingested rows within one request. Runs until ctx ends.
func (c *DashboardCache) Watch(ctx context.Context, bus *eventbus.Bus) {
	if c.rdb == nil {
		return
	}
	ch := make(chan eventbus.Event, 64)
	bus.Subscribe(eventbus.TypeJobCompleted, ch)
	bus.Subscribe(eventbus.TypeJobFailed, ch)
	go func() {
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				c.InvalidateOwner(ctx, evt.OwnerID)
			}
		}
	}()
}

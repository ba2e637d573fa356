package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/go-redis/redis/v8"
	Logger "github.com/photocampus/feedengine/utils/log"
)

const (
	pageKeyPrefix         = "feed:page:"
	ddogFeedCacheHit      = "feed.cache.hit"
	ddogFeedCacheMiss     = "feed.cache.miss"
	invalidationScanCount = 100
)

// PageCache stores serialized first pages. Implementations must treat
// every failure as a miss, a broken cache may never break reads.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
	InvalidateUser(ctx context.Context, userID string)
}

// PageKey is the cache key for a user's first page under one algorithm
// and page size. Later pages are never cached.
func PageKey(userID, algorithm string, pageSize int) string {
	return fmt.Sprintf("%s%s:%s:%d", pageKeyPrefix, userID, algorithm, pageSize)
}

// RedisPageCache is the production PageCache.
type RedisPageCache struct {
	client *redis.Client
	statsd statsd.ClientInterface
}

func NewRedisPageCache(client *redis.Client, dd statsd.ClientInterface) *RedisPageCache {
	if dd == nil {
		dd = &statsd.NoOpClient{}
	}
	return &RedisPageCache{client: client, statsd: dd}
}

func (c *RedisPageCache) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.statsd.Incr(ddogFeedCacheMiss, nil, 1)
		return nil, false
	}
	if err != nil {
		Logger.Log.Warn("feed page cache read failed: ", err)
		c.statsd.Incr(ddogFeedCacheMiss, nil, 1)
		return nil, false
	}
	c.statsd.Incr(ddogFeedCacheHit, nil, 1)
	return payload, true
}

func (c *RedisPageCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		Logger.Log.Warn("feed page cache write failed: ", err)
	}
}

// InvalidateUser drops every cached page variant for the user, whatever
// algorithm or page size it was rendered with.
func (c *RedisPageCache) InvalidateUser(ctx context.Context, userID string) {
	pattern := pageKeyPrefix + userID + ":*"
	iter := c.client.Scan(ctx, 0, pattern, invalidationScanCount).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			Logger.Log.Warn("feed page cache invalidation failed: ", err)
		}
	}
	if err := iter.Err(); err != nil {
		Logger.Log.Warn("feed page cache invalidation scan failed: ", err)
	}
}

// NoopPageCache disables caching. Used when no redis endpoint is
// configured.
type NoopPageCache struct{}

func (NoopPageCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }

func (NoopPageCache) Set(ctx context.Context, key string, payload []byte, t time.Duration) {}

func (NoopPageCache) InvalidateUser(ctx context.Context, userID string) {}

package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	commonlog "market_files/server/common/log"
)

const urlCachePrefix = "fileman:url:"

// URLCache keeps signed URLs per storage path. A miss only costs a re-sign,
// so backend errors are logged and reported as misses.
type URLCache interface {
	Get(ctx context.Context, path string) (string, bool)
	Set(ctx context.Context, path, url string)
	Invalidate(ctx context.Context, paths ...string)
}

// URLCacheTTL keeps cached URLs well inside their signature lifetime.
func URLCacheTTL(signedURLTTL time.Duration) time.Duration {
	return signedURLTTL / 2
}

type LRUURLCache struct {
	entries *expirable.LRU[string, string]
}

func NewLRUURLCache(size int, ttl time.Duration) *LRUURLCache {
	if size <= 0 {
		size = 4096
	}
	return &LRUURLCache{entries: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *LRUURLCache) Get(_ context.Context, path string) (string, bool) {
	return c.entries.Get(path)
}

func (c *LRUURLCache) Set(_ context.Context, path, url string) {
	c.entries.Add(path, url)
}

func (c *LRUURLCache) Invalidate(_ context.Context, paths ...string) {
	for _, p := range paths {
		if p != "" {
			c.entries.Remove(p)
		}
	}
}

type RedisURLCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisURLCache(client *redis.Client, ttl time.Duration) *RedisURLCache {
	return &RedisURLCache{client: client, ttl: ttl}
}

func (c *RedisURLCache) Get(ctx context.Context, path string) (string, bool) {
	v, err := c.client.Get(ctx, urlCachePrefix+path).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		commonlog.Warnf("url cache get %s: %v", path, err)
		return "", false
	}
	return v, true
}

func (c *RedisURLCache) Set(ctx context.Context, path, url string) {
	if err := c.client.Set(ctx, urlCachePrefix+path, url, c.ttl).Err(); err != nil {
		commonlog.Warnf("url cache set %s: %v", path, err)
	}
}

func (c *RedisURLCache) Invalidate(ctx context.Context, paths ...string) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			keys = append(keys, urlCachePrefix+p)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		commonlog.Warnf("url cache invalidate: %v", err)
	}
}

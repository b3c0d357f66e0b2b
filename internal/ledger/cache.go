package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "ledger:version"

var summaryBuildGroup singleflight.Group

// Cache is the versioned Redis cache for read-side summary aggregates. Every
// ledger mutation bumps the version, invalidating all cached summaries at
// once. A nil client degrades to always calling the loader.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every cached summary by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// Summary serves the account summary from cache, rebuilding it through the
// loader on a miss. Concurrent rebuilds of the same key collapse into one
// loader call.
func (c *Cache) Summary(ctx context.Context, accountID int64, loader func(context.Context) (Summary, error)) (Summary, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := summaryKey(accountID, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var s Summary
		if err := json.Unmarshal(payload, &s); err == nil {
			return s, nil
		}
	}
	result := summaryBuildGroup.DoChan(key, func() (any, error) {
		s, err := loader(ctx)
		if err != nil {
			return Summary{}, err
		}
		if raw, err := json.Marshal(s); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return s, nil
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

func summaryKey(accountID, version int64) string {
	return strings.Join([]string{
		"ledger", "summary",
		strconv.FormatInt(accountID, 10),
		strconv.FormatInt(version, 10),
	}, ":")
}

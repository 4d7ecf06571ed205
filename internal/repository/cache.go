package repository

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cleartitle/internal/metrics"
	"cleartitle/internal/models"

	"github.com/redis/go-redis/v9"
)

// ListingCache caches listing search results in redis. Entries are keyed by
// a per-kind version number, so invalidation is a single INCR and stale
// entries simply age out. A nil client turns every call into a miss.
type ListingCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewListingCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *ListingCache {
	return &ListingCache{rdb: rdb, ttl: ttl, logger: logger}
}

func versionKey(kind models.EntityType) string {
	return "listings:" + string(kind) + ":version"
}

// QueryKey builds a deterministic key from the query parameters.
func QueryKey(prefix string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(":")
		}
		builder.WriteString(k)
		builder.WriteString("=")
		builder.WriteString(params[k])
	}

	hash := md5.Sum([]byte(builder.String()))
	return prefix + ":" + hex.EncodeToString(hash[:])
}

func (c *ListingCache) key(ctx context.Context, kind models.EntityType, params map[string]string) (string, error) {
	version, err := c.rdb.Get(ctx, versionKey(kind)).Result()
	if errors.Is(err, redis.Nil) {
		version = "0"
	} else if err != nil {
		return "", err
	}
	return QueryKey("listings:"+string(kind)+":v"+version, params), nil
}

// Get loads a cached result into dest and reports whether it was found.
// The returned key pins the version read here; pass it to Set so a result
// computed before an invalidation is never stored under the newer version.
// An empty key means the cache is unavailable.
func (c *ListingCache) Get(ctx context.Context, kind models.EntityType, params map[string]string, dest any) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	key, err := c.key(ctx, kind, params)
	if err != nil {
		c.logger.Warn("Listing cache unavailable", "error", err)
		metrics.ListingCacheRequests.WithLabelValues("error").Inc()
		return "", false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Listing cache read failed", "key", key, "error", err)
		}
		metrics.ListingCacheRequests.WithLabelValues("miss").Inc()
		return key, false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("Listing cache entry corrupt", "key", key, "error", err)
		metrics.ListingCacheRequests.WithLabelValues("miss").Inc()
		return key, false
	}
	metrics.ListingCacheRequests.WithLabelValues("hit").Inc()
	return key, true
}

// Set stores value under a key returned by Get.
func (c *ListingCache) Set(ctx context.Context, key string, value any) {
	if c == nil || c.rdb == nil || key == "" {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Listing cache encode failed", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Listing cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached query of the given kind. Failures are
// logged only; a stale entry expires with its TTL.
func (c *ListingCache) Invalidate(ctx context.Context, kind models.EntityType) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Incr(ctx, versionKey(kind)).Err(); err != nil {
		c.logger.Warn("Listing cache invalidation failed", "kind", kind, "error", err)
	}
}

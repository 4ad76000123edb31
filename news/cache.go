package news

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL is how long a topic set's results are reused.
const DefaultCacheTTL = 30 * time.Minute

const keyPrefix = "tradeagent:news:"

// Cached wraps a Source with a Redis cache keyed by the topic list.
// Redis failures are logged and the wrapped source is used directly.
type Cached struct {
	src    Source
	rdb    redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCached creates a caching Source. A ttl <= 0 uses DefaultCacheTTL.
func NewCached(src Source, rdb redis.Cmdable, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{src: src, rdb: rdb, ttl: ttl, logger: log.Logger}
}

// WithLogger sets the logger and returns c.
func (c *Cached) WithLogger(l zerolog.Logger) *Cached {
	c.logger = l
	return c
}

// CacheKey is the Redis key for a topic list.
func CacheKey(topics []string) string {
	return keyPrefix + strings.ToLower(strings.Join(topics, "|"))
}

// Query implements Source.
func (c *Cached) Query(ctx context.Context, topics []string) ([]Item, error) {
	key := CacheKey(topics)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var items []Item
		jerr := json.Unmarshal(raw, &items)
		if jerr == nil {
			c.logger.Debug().Str("key", key).Int("items", len(items)).Msg("news_cache_hit")
			return items, nil
		}
		c.logger.Warn().Err(jerr).Str("key", key).Msg("news_cache_decode_failed")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Str("key", key).Msg("news_cache_get_failed")
	}

	items, err := c.src.Query(ctx, topics)
	if err != nil || len(items) == 0 {
		return items, err
	}

	data, err := json.Marshal(items)
	if err != nil {
		return items, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("news_cache_set_failed")
	}
	return items, nil
}

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/domain"
)

const cachePrefix = "dir:"

// Cached fronts a Lookup with Redis. Cache failures are logged and the lookup
// falls through to the backing source.
type Cached struct {
	next   Lookup
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next with a Redis read-through cache.
func NewCached(next Lookup, client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) Lookup(ctx context.Context, kind domain.RecipientType, id string) (Entry, error) {
	cacheKey := cachePrefix + key(kind, id)

	raw, err := c.client.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var entry Entry
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			return entry, nil
		}
		c.logger.Warn("discarding corrupt directory cache entry", zap.String("key", cacheKey))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("directory cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}

	entry, err := c.next.Lookup(ctx, kind, id)
	if err != nil {
		return Entry{}, err
	}
	if payload, err := json.Marshal(entry); err == nil {
		if err := c.client.Set(ctx, cacheKey, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("directory cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return entry, nil
}

// Invalidate drops a cached entry.
func (c *Cached) Invalidate(ctx context.Context, kind domain.RecipientType, id string) error {
	return c.client.Del(ctx, cachePrefix+key(kind, id)).Err()
}

package numbering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/workorder-service/internal/repository"
)

// StoreSequence delegates to the storage-level per-year counter.
type StoreSequence struct {
	repo repository.SequenceRepository
}

func NewStoreSequence(repo repository.SequenceRepository) *StoreSequence {
	return &StoreSequence{repo: repo}
}

func (s *StoreSequence) Next(ctx context.Context, year int) (int64, error) {
	return s.repo.NextSequence(ctx, year)
}

// Counter is an in-process sequence. Each year is seeded lazily from the
// highest persisted suffix so a restart never reissues a number.
type Counter struct {
	mu     sync.Mutex
	source repository.SequenceRepository
	last   map[int]int64
}

// NewCounter returns a counter; source may be nil for a counter that starts at zero.
func NewCounter(source repository.SequenceRepository) *Counter {
	return &Counter{source: source, last: make(map[int]int64)}
}

func (c *Counter) Next(ctx context.Context, year int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, seeded := c.last[year]
	if !seeded && c.source != nil {
		max, err := c.source.MaxSequence(ctx, year)
		if err != nil {
			return 0, fmt.Errorf("seed sequence %d: %w", year, err)
		}
		last = max
	}
	last++
	c.last[year] = last
	return last, nil
}

// seedScript raises the counter to the persisted maximum without ever lowering it.
var seedScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if floor > current then
  redis.call('SET', KEYS[1], floor)
end
return redis.call('EXPIRE', KEYS[1], ARGV[2])
`)

// RedisSequence shares one counter per year between replicas via INCR.
type RedisSequence struct {
	client redis.Cmdable
	source repository.SequenceRepository
	ttl    time.Duration

	mu     sync.Mutex
	seeded map[int]bool
}

// NewRedisSequence builds a sequence under keys wo:seq:<year>; keys expire
// ttl after seeding, well after the year has ended.
func NewRedisSequence(client redis.Cmdable, source repository.SequenceRepository) *RedisSequence {
	return &RedisSequence{
		client: client,
		source: source,
		ttl:    400 * 24 * time.Hour,
		seeded: make(map[int]bool),
	}
}

func (r *RedisSequence) Next(ctx context.Context, year int) (int64, error) {
	key := sequenceKey(year)
	if err := r.seed(ctx, key, year); err != nil {
		return 0, err
	}
	value, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisSequence) seed(ctx context.Context, key string, year int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seeded[year] {
		return nil
	}
	var floor int64
	if r.source != nil {
		max, err := r.source.MaxSequence(ctx, year)
		if err != nil {
			return fmt.Errorf("seed sequence %d: %w", year, err)
		}
		floor = max
	}
	if err := seedScript.Run(ctx, r.client, []string{key}, floor, int64(r.ttl.Seconds())).Err(); err != nil {
		return fmt.Errorf("seed %s: %w", key, err)
	}
	r.seeded[year] = true
	return nil
}

func sequenceKey(year int) string { return fmt.Sprintf("wo:seq:%d", year) }

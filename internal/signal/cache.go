package signal

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const signalKeyPrefix = "agent:signal:last"

// Cache remembers the most recent rendered signal per symbol so an unchanged
// signal within the TTL does not re-trigger a trade decision. Backed by Redis
// when available; falls back to an in-memory map so signal suppression keeps
// working when Redis is down.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	memory map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	value    string
	cachedAt time.Time
}

// NewCache creates a signal cache. rdb may be nil for memory-only operation.
func NewCache(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "signal_cache").Logger(),
		memory: make(map[string]memoryEntry),
		now:    time.Now,
	}
}

// SeenRecently reports whether rendered matches the cached signal for symbol
// within the TTL, and records rendered as the latest signal either way.
func (c *Cache) SeenRecently(ctx context.Context, symbol, rendered string) bool {
	key := signalKeyPrefix + ":" + symbol

	if c.rdb != nil {
		prev, err := c.rdb.Get(ctx, key).Result()
		if err == nil || err == redis.Nil {
			if setErr := c.rdb.Set(ctx, key, rendered, c.ttl).Err(); setErr != nil {
				c.logger.Warn().Err(setErr).Msg("redis set failed, using memory fallback")
				return c.seenInMemory(key, rendered)
			}
			return err == nil && prev == rendered
		}
		c.logger.Warn().Err(err).Msg("redis get failed, using memory fallback")
	}

	return c.seenInMemory(key, rendered)
}

func (c *Cache) seenInMemory(key, rendered string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.memory[key]
	seen := ok && entry.value == rendered && now.Sub(entry.cachedAt) < c.ttl
	c.memory[key] = memoryEntry{value: rendered, cachedAt: now}
	return seen
}

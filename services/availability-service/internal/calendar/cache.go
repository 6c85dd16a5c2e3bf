package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 60 * time.Second

// busyCache stores encoded busy lists per agent.
type busyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, agentID, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, agentID string) error
}

// Cached serves ListBusy from a short-lived cache and drops an agent's
// entries whenever the service itself writes to that agent's calendar.
// Cache failures are logged and the underlying source answers instead.
type Cached struct {
	next   EventSource
	cache  busyCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next EventSource, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cached {
	return newCached(next, &redisBusyCache{rdb: rdb, prefix: "agentdesk:busy"}, ttl, logger)
}

func newCached(next EventSource, cache busyCache, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(agentID string, from, to time.Time) string {
	return fmt.Sprintf("%s:%d:%d", agentID, from.Unix(), to.Unix())
}

func (c *Cached) ListBusy(ctx context.Context, agentID string, from, to time.Time) ([]availability.BusyEvent, error) {
	key := cacheKey(agentID, from, to)
	raw, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("busy cache read failed", "agent_id", agentID, "err", err)
	}
	if hit {
		var events []availability.BusyEvent
		if err := json.Unmarshal(raw, &events); err == nil {
			return events, nil
		}
		c.logger.Warn("busy cache entry unreadable", "agent_id", agentID)
	}

	events, err := c.next.ListBusy(ctx, agentID, from, to)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(events); err == nil {
		if err := c.cache.Set(ctx, agentID, key, raw, c.ttl); err != nil {
			c.logger.Warn("busy cache write failed", "agent_id", agentID, "err", err)
		}
	}
	return events, nil
}

func (c *Cached) CreateEvent(ctx context.Context, agentID string, in EventInput) (string, error) {
	id, err := c.next.CreateEvent(ctx, agentID, in)
	c.Invalidate(ctx, agentID)
	return id, err
}

func (c *Cached) DeleteEvent(ctx context.Context, agentID, eventID string) error {
	err := c.next.DeleteEvent(ctx, agentID, eventID)
	c.Invalidate(ctx, agentID)
	return err
}

// Invalidate drops every cached range for the agent.
func (c *Cached) Invalidate(ctx context.Context, agentID string) {
	if err := c.cache.Invalidate(ctx, agentID); err != nil {
		c.logger.Warn("busy cache invalidation failed", "agent_id", agentID, "err", err)
	}
}

// redisBusyCache keeps one string per query range plus a per-agent set
// listing those keys, so an agent's entries can be dropped together.
type redisBusyCache struct {
	rdb    redis.Cmdable
	prefix string
}

func (r *redisBusyCache) entryKey(key string) string  { return r.prefix + ":" + key }
func (r *redisBusyCache) indexKey(agent string) string { return r.prefix + ":idx:" + agent }

func (r *redisBusyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.rdb.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *redisBusyCache) Set(ctx context.Context, agentID, key string, value []byte, ttl time.Duration) error {
	idx := r.indexKey(agentID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.entryKey(key), value, ttl)
		p.SAdd(ctx, idx, r.entryKey(key))
		p.Expire(ctx, idx, ttl*2)
		return nil
	})
	return err
}

func (r *redisBusyCache) Invalidate(ctx context.Context, agentID string) error {
	idx := r.indexKey(agentID)
	keys, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}
	return r.rdb.Del(ctx, append(keys, idx)...).Err()
}

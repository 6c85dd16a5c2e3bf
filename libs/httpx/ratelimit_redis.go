package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowCounter increments the hit count for one window bucket.
type windowCounter interface {
	Hit(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type redisCounter struct {
	rdb redis.Cmdable
}

func (c redisCounter) Hit(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RedisRateLimiter counts requests per client in fixed windows stored in
// Redis, so every replica enforces the same budget. Bucket keys carry the
// window index and expire on their own.
type RedisRateLimiter struct {
	counter windowCounter
	limit   int
	window  time.Duration
	prefix  string
	now     func() time.Time
}

func NewRedisRateLimiter(rdb redis.Cmdable, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{counter: redisCounter{rdb: rdb}, limit: limit, window: window, prefix: prefix, now: time.Now}
}

// Middleware sets X-RateLimit-Limit and X-RateLimit-Remaining on every
// counted response. If Redis errors, failOpen lets the request through;
// otherwise the caller gets a 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := rl.now()
			bucket := now.UnixMilli() / rl.window.Milliseconds()
			key := rl.prefix + ":" + clientKey(r) + ":" + strconv.FormatInt(bucket, 10)

			hits, err := rl.counter.Hit(r.Context(), key, rl.window)
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "rate limiter unavailable", "err", err, "fail_open", failOpen)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}

			remaining := int64(rl.limit) - hits
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(remaining, 0), 10))
			if remaining < 0 {
				resetAt := time.UnixMilli((bucket + 1) * rl.window.Milliseconds())
				secs := int(resetAt.Sub(now).Round(time.Second) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package ratelimit caps questions per user and chat bot and drops
// duplicate Telegram updates.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "askthemall"

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Used    int64
	ResetAt time.Time
}

// Limiter is a fixed hourly window counter. A limit <= 0 disables it.
type Limiter struct {
	redis  redis.Scripter
	prefix string
	limit  int64
}

func NewLimiter(rdb redis.Scripter, prefix string, limit int64) *Limiter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Limiter{redis: rdb, prefix: prefix, limit: limit}
}

func (l *Limiter) Allow(ctx context.Context, userID int64, chatBotID string, now time.Time) (Decision, error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if l.limit <= 0 {
		return Decision{Allowed: true, ResetAt: windowEnd}, nil
	}
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("%s:ratelimit:%d:%s:%s", l.prefix, userID, chatBotID, windowStart.Format("2006010215"))
	used, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	return Decision{Allowed: used <= l.limit, Used: used, ResetAt: windowEnd}, nil
}

type UpdateDeduplicator struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewUpdateDeduplicator(rdb redis.Cmdable, prefix string, ttl time.Duration) *UpdateDeduplicator {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &UpdateDeduplicator{redis: rdb, prefix: prefix, ttl: ttl}
}

// MarkFirst reports whether this is the first time the update id is seen.
func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("%s:update:%d", d.prefix, updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dailyLimitLuaScript atomically checks and increments the per-user daily
// send counter. GET then INCR from Go would race across loop instances.
const dailyLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")

if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// DailyLimiter enforces a per-user daily send cap in Redis. Counters live
// in day-bucketed keys with a 25 hour TTL so they expire on their own.
type DailyLimiter struct {
	redis  *redis.Client
	script *redis.Script
}

// NewDailyLimiter wraps an existing Redis client.
func NewDailyLimiter(client *redis.Client) *DailyLimiter {
	return &DailyLimiter{
		redis:  client,
		script: redis.NewScript(dailyLimitLuaScript),
	}
}

func dailyKey(userID int64, now time.Time) string {
	return fmt.Sprintf("followup:daily:%d:%s", userID, now.Format("2006-01-02"))
}

// Allow consumes one send from the user's daily budget. It returns false
// once limit sends have been counted for the UTC day.
func (l *DailyLimiter) Allow(ctx context.Context, userID int64, limit int, now time.Time) (bool, error) {
	result, err := l.script.Run(ctx, l.redis,
		[]string{dailyKey(userID, now)},
		limit,
		90000, // 25 hours, outlives the day bucket
	).Slice()
	if err != nil {
		return false, fmt.Errorf("daily limit check failed: %w", err)
	}
	return result[0].(int64) == 1, nil
}

// Usage reports how many sends the user has consumed today. Missing key
// means zero.
func (l *DailyLimiter) Usage(ctx context.Context, userID int64, now time.Time) (int64, error) {
	n, err := l.redis.Get(ctx, dailyKey(userID, now)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/venuehq/webhook-ingestion/internal/domain"
)

// RateLimiter implements a per-source sliding window limiter on the inbound
// webhook endpoints. A misbehaving provider retry storm gets throttled before
// it reaches the store. Uses a sorted set where each member is a unique
// request ID with a timestamp score; a Lua script atomically cleans expired
// entries, checks the count, and adds new entries.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

// Lua script for atomic sliding window rate limiting.
// 1. Remove entries older than the window
// 2. Count remaining entries
// 3. If under the limit, add a new entry and return 1 (allowed)
// 4. If at/over the limit, return 0 (denied)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

func rlKey(source domain.Source) string {
	return fmt.Sprintf("rl:inbound:%s", source)
}

// Allow checks if another delivery from this source is within the rate
// limit. Returns true if allowed, false if rate limited.
func (rl *RateLimiter) Allow(ctx context.Context, source domain.Source, limit int) bool {
	if limit <= 0 {
		return true // No rate limit configured
	}

	key := rlKey(source)
	now := time.Now().UnixMilli()
	window := int64(1000)                                            // 1 second window in milliseconds
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000) // unique member

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "source", source)
		return true // Fail open — ingestion must not depend on Redis health
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "source", source, "limit", limit)
		return false
	}

	return true
}

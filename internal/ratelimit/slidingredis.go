package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a sliding-window limiter on Redis sorted sets, shared by every
// API instance pointed at the same Redis. Rejected events are not recorded,
// so a client that keeps hammering is let back in once its accepted events
// age out.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// slidingWindowScript trims the window, admits the event when there is room
// and returns {admitted, count, oldestScore}. Scores are unix microseconds and
// are passed as strings because Lua would print them with lost precision.
//
// ARGV: now, cutoff, max, member, ttl millis.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call("ZREMRANGEBYSCORE", key, "-inf", ARGV[2])
local count = redis.call("ZCARD", key)
local admitted = 0
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", key, ARGV[1], ARGV[4])
  count = count + 1
  admitted = 1
end
redis.call("PEXPIRE", key, ARGV[5])
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local oldestScore = ARGV[1]
if oldest[2] then
  oldestScore = oldest[2]
end
return {admitted, count, oldestScore}
`)

// Allow implements Allower.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	nowMicros := now.UnixMicro()
	ttl := window.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	res, err := slidingWindowScript.Run(ctx, l.Client, []string{l.Prefix + key},
		strconv.FormatInt(nowMicros, 10),
		strconv.FormatInt(nowMicros-window.Microseconds(), 10),
		max, uuid.NewString(), ttl).Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	if len(res) < 3 {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	admitted, _ := res[0].(int64)
	count, _ := res[1].(int64)
	reset := now.Add(window)
	if s, ok := res[2].(string); ok {
		if oldest, err := strconv.ParseFloat(s, 64); err == nil {
			reset = time.UnixMicro(int64(oldest)).Add(window)
		}
	}
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return admitted == 1, remaining, reset, nil
}

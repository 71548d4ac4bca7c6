package httpmiddleware

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// slidingLog keeps one sorted set member per admitted request, scored by
// its timestamp in milliseconds.
//
// KEYS[1] = key, ARGV = now, window, limit, member.
// Returns {allowed, count, oldest}.
var slidingLog = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisLimiter shares a sliding log limit between all API replicas.
type RedisLimiter struct {
	rdb    rd.Scripter
	prefix string
	max    int
	period time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows max requests per period and key. Keys are stored
// under prefix.
func NewRedisLimiter(rdb rd.Scripter, prefix string, max int, period time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, max: max, period: period}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	res, err := slidingLog.Run(ctx, l.rdb, []string{l.prefix + key},
		now.UnixMilli(), l.period.Milliseconds(), l.max, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "sliding log")
	}
	if len(res) != 3 {
		return Decision{}, errors.Errorf("sliding log: unexpected reply %v", res)
	}

	return Decision{
		Allowed:   res[0] == 1,
		Limit:     l.max,
		Remaining: max(l.max-int(res[1]), 0),
		ResetAt:   time.UnixMilli(res[2]).Add(l.period),
	}, nil
}

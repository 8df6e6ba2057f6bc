package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("rate limit redis unavailable")

// KEYS[1] = bucket key
// ARGV[1] = max admissions
// ARGV[2] = window in milliseconds
//
// Returns {allowed (0|1), count, pttl}. The counter never goes past max.
var takeLua = redis.NewScript(`
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local allowed = 0
if current < max then
  current = redis.call('INCR', KEYS[1])
  allowed = 1
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
return {allowed, current, ttl}
`)

// RedisStore shares buckets between instances through Redis. A key expiring
// is the window rollover.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(tier Tier, address string) string {
	return s.prefix + ":" + tier.Name + ":" + address
}

func (s *RedisStore) Take(ctx context.Context, tier Tier, address string) (Decision, error) {
	res, err := takeLua.Run(ctx, s.client, []string{s.key(tier, address)}, tier.Max, tier.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}
	count := int(res[1])
	return Decision{
		Allowed:   res[0] == 1,
		Count:     count,
		Remaining: max(tier.Max-count, 0),
		ResetIn:   time.Duration(res[2]) * time.Millisecond,
	}, nil
}

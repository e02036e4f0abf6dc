package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first INCR of a window also sets its expiry, in the same round trip, so
// a crash between the two commands cannot leave a counter that never resets.
var incrWithTTL = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IncrWithTTL increments key, starting a ttl window on the first increment.
// The rate limiter counts requests with it.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return incrWithTTL.Run(ctx, c.rdb, []string{key}, ttl.Milliseconds()).Int64()
}

// NextSequence returns the next value of a counter that never expires. Order
// numbers are allocated from it.
func (c *Client) NextSequence(ctx context.Context, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, errors.New("sequence name is required")
	}
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.rdb.Incr(ctx, c.CounterKey(name)).Result()
}

// CompareAndDelete removes key only while it still holds value and reports
// whether it did. The cron lease is released with it.
func (c *Client) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := compareAndDelete.Run(ctx, c.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

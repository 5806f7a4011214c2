package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Counter is a fixed window hit counter shared by all server replicas.
type Counter struct {
	client goredis.UniversalClient
	prefix string
}

// NewCounter creates a counter whose keys start with prefix.
func NewCounter(client goredis.UniversalClient, prefix string) *Counter {
	return &Counter{client: client, prefix: prefix}
}

// Hit increments the bucket of key for the window and expires it with the
// window.
func (c *Counter) Hit(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	k := c.prefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)
	var incr *goredis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "incr rate limit bucket")
	}
	return incr.Val(), nil
}

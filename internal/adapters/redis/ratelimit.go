package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter implements fixed-window counting. Each window gets its own key, so a burst at the
// end of one window never extends the next.
type Counter struct {
	client *redis.Client
	now    func() time.Time
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client, now: time.Now}
}

func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	slot := c.now().UnixNano() / int64(window)
	fullKey := "rl:" + key + ":" + strconv.FormatInt(slot, 10)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

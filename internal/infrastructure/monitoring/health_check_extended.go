package monitoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddMongoCheck pings the primary.
func (h *HealthChecker) AddMongoCheck(client *mongo.Client, interval, timeout time.Duration) {
	h.AddCheck("mongo", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddStorageCheck adds a check backed by the storage layer's own health check.
func (h *HealthChecker) AddStorageCheck(check func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck("storage", func(ctx context.Context) (bool, error) {
		if err := check(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

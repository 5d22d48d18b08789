package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// RedisLayoutRepository stores each session's history as a sorted set scored
// by CreatedAt in microseconds. Members are the JSON-encoded records, so a
// record is never rewritten once added.
type RedisLayoutRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisLayoutRepository(client *redis.Client) ports.LayoutRepository {
	return &RedisLayoutRepository{
		client: client,
		prefix: keyPrefix + "layout:",
	}
}

func (r *RedisLayoutRepository) historyKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisLayoutRepository) Append(ctx context.Context, record *domain.LayoutRecord) error {
	if record == nil || record.SessionID == "" {
		return fmt.Errorf("append layout: %w", domain.ErrEmptySessionID)
	}

	key := r.historyKey(record.SessionID)
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "zadd", key)
	defer span.End()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal layout record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(record.CreatedAt.UnixMicro()),
		Member: data,
	})
	pipe.SAdd(ctx, sessionsKey, string(record.SessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to append layout in Redis: %w", err)
	}
	return nil
}

func (r *RedisLayoutRepository) Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error) {
	records, err := r.rangeNewest(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrLayoutNotFound
	}
	return records[0], nil
}

func (r *RedisLayoutRepository) History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	return r.rangeNewest(ctx, sessionID, stop)
}

func (r *RedisLayoutRepository) rangeNewest(ctx context.Context, sessionID domain.SessionID, stop int64) ([]*domain.LayoutRecord, error) {
	key := r.historyKey(sessionID)
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "zrevrange", key)
	defer span.End()

	members, err := r.client.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read layouts from Redis: %w", err)
	}

	records := make([]*domain.LayoutRecord, 0, len(members))
	for _, m := range members {
		var rec domain.LayoutRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal layout record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

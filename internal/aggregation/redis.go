package aggregation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/config"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
)

const (
	redisKeyPrefix = "notifications:aggregation:"
	redisIndexKey  = redisKeyPrefix + "keys"
)

// RedisStore shares aggregation state between engine instances. Adds and
// flushes run as MULTI/EXEC transactions so they never interleave.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		log:    log,
	}
}

func listKey(key domain.AggregationKey) string {
	return redisKeyPrefix + key.String()
}

func (s *RedisStore) Add(ctx context.Context, key domain.AggregationKey, entry domain.AggregationEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregation entry: %w", err)
	}
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregation key: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, listKey(key), entryJSON)
		pipe.SAdd(ctx, redisIndexKey, keyJSON)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add aggregation entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Flush(ctx context.Context, key domain.AggregationKey) (*domain.AggregatedPayload, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregation key: %w", err)
	}

	var (
		lenCmd   *redis.IntCmd
		rangeCmd *redis.StringSliceCmd
	)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lenCmd = pipe.LLen(ctx, listKey(key))
		rangeCmd = pipe.LRange(ctx, listKey(key), 0, -1)
		pipe.Del(ctx, listKey(key))
		pipe.SRem(ctx, redisIndexKey, keyJSON)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to flush aggregation key %s: %w", key, err)
	}

	raw := rangeCmd.Val()
	if int64(len(raw)) != lenCmd.Val() {
		return nil, &ConsistencyError{
			Key:    key,
			Detail: fmt.Sprintf("list held %d entries but %d were read", lenCmd.Val(), len(raw)),
		}
	}

	payload := &domain.AggregatedPayload{Key: key}
	for _, item := range raw {
		var entry domain.AggregationEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// The entry is already gone from Redis; report and keep the rest.
			s.log.Error("Dropping unreadable aggregation entry",
				zap.String("key", key.String()),
				zap.Error(err))
			continue
		}
		payload.Entries = append(payload.Entries, entry)
	}

	return payload, nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]domain.AggregationKey, error) {
	members, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregation keys: %w", err)
	}

	keys := make([]domain.AggregationKey, 0, len(members))
	for _, member := range members {
		var key domain.AggregationKey
		if err := json.Unmarshal([]byte(member), &key); err != nil {
			s.log.Warn("Skipping unreadable aggregation key", zap.String("member", member), zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}

	sortKeys(keys)
	return keys, nil
}

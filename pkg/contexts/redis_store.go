package contexts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/callchain/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "callchain:context:"
	redisIndexKey  = "callchain:contexts"
)

// redisClient is the subset of redis.UniversalClient the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisStore keeps each context as a JSON string and indexes IDs in a set.
type RedisStore struct {
	client redisClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, execCtx *models.ExecutionContext) error {
	data, err := json.Marshal(execCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context %s: %w", execCtx.ID, err)
	}

	err = s.client.Set(ctx, redisKeyPrefix+execCtx.ID, data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to store execution context %s: %w", execCtx.ID, err)
	}

	err = s.client.SAdd(ctx, redisIndexKey, execCtx.ID).Err()
	if err != nil {
		return fmt.Errorf("failed to index execution context %s: %w", execCtx.ID, err)
	}

	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*models.ExecutionContext, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrContextNotFound, id)
		}

		return nil, fmt.Errorf("failed to read execution context %s: %w", id, err)
	}

	var execCtx models.ExecutionContext

	err = json.Unmarshal(data, &execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context %s: %w", id, err)
	}

	return &execCtx, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*models.ExecutionContext, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list execution contexts: %w", err)
	}

	all := make([]*models.ExecutionContext, 0, len(ids))

	for _, id := range ids {
		execCtx, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrContextNotFound) {
				continue
			}

			return nil, err
		}

		all = append(all, execCtx)
	}

	return all, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	err := s.client.Del(ctx, redisKeyPrefix+id).Err()
	if err != nil {
		return fmt.Errorf("failed to delete execution context %s: %w", id, err)
	}

	return s.client.SRem(ctx, redisIndexKey, id).Err()
}

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(r.client.Ping(ctx).Err(), "redis ping")
}

func (r *RedisStore) SaveResult(ctx context.Context, result protocol.CommandResult, ttl time.Duration) error {
	b, err := json.Marshal(result)
	if err != nil {
		return errors.Wrapf(err, "encode result %s", result.ID)
	}
	return errors.Wrap(r.client.Set(ctx, "result:"+result.ID, b, ttl).Err(), "redis set")
}

func (r *RedisStore) LoadResult(ctx context.Context, id string) (protocol.CommandResult, bool, error) {
	raw, err := r.client.Get(ctx, "result:"+id).Bytes()
	if err == redis.Nil {
		return protocol.CommandResult{}, false, nil
	}
	if err != nil {
		return protocol.CommandResult{}, false, errors.Wrap(err, "redis get")
	}
	var result protocol.CommandResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return protocol.CommandResult{}, false, errors.Wrapf(err, "decode result %s", id)
	}
	return result, true, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the record as a single JSON value, for deployments where
// an orchestrator hands state between tasks through a shared key/value store.
type RedisStore struct {
	Key    string
	client redis.UniversalClient
}

// OpenRedis connects to the redis URL (redis:// or rediss://).
func OpenRedis(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, key), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{Key: key, client: client}
}

func (s *RedisStore) Describe() string {
	return "redis:" + s.Key
}

func (s *RedisStore) Load(ctx context.Context) (*Record, error) {
	data, err := s.client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &ReadError{Store: s.Describe(), Err: err}
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, &ReadError{Store: s.Describe(), Err: err}
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: err}
	}
	if err := s.client.Set(ctx, s.Key, data, 0).Err(); err != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: err}
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.Key).Err(); err != nil {
		return fmt.Errorf("delete watermark: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

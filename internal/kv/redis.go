package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on Redis lists and string keys:
// RPUSH/LPOP for the FIFO ends, LMOVE for claims, SET EX for TTL records.
type RedisBackend struct {
	client redis.UniversalClient
}

// RedisOptions configures NewRedisBackend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBackend connects to Redis and verifies the connection with PING.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	b := &RedisBackend{client: client}
	if err := b.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return b, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Push(ctx context.Context, list string, value []byte) error {
	if err := r.client.RPush(ctx, list, value).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", list, err)
	}
	return nil
}

func (r *RedisBackend) Move(ctx context.Context, src, dst string, from, to End) ([]byte, bool, error) {
	v, err := r.client.LMove(ctx, src, dst, from.String(), to.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lmove %s -> %s: %w", src, dst, err)
	}
	return v, true, nil
}

func (r *RedisBackend) Len(ctx context.Context, list string) (int64, error) {
	n, err := r.client.LLen(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", list, err)
	}
	return n, nil
}

func (r *RedisBackend) Range(ctx context.Context, list string) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, list, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", list, err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (r *RedisBackend) Remove(ctx context.Context, list string, value []byte) (int64, error) {
	n, err := r.client.LRem(ctx, list, 1, value).Result()
	if err != nil {
		return 0, fmt.Errorf("lrem %s: %w", list, err)
	}
	return n, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

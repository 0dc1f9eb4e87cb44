package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/txengine/config"
	"github.com/vultisig/txengine/contexthelper"
)

// ErrNotFound is returned by KeyedStore.Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// KeyedStore is the shared coordination store. Every value carries a TTL so
// state left behind by a crashed worker expires on its own.
type KeyedStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes value only if key does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// DeleteIfValue deletes key only while it still holds value.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	// LowerTo sets an integer key to value only if it currently holds a
	// strictly greater integer.
	LowerTo(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
}

var _ KeyedStore = &RedisStorage{}

var (
	deleteIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	lowerToScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]))
if current ~= nil and current > tonumber(ARGV[1]) then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0`)
)

type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(cfg config.Config) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return &RedisStorage{
		client: client,
	}, nil
}

// NewRedisStorageFromClient wraps an existing client, used when the client is
// shared with the task queue or in tests.
func NewRedisStorageFromClient(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return "", err
	}
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("fail to get key %s, err: %w", key, err)
	}
	return value, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("fail to set key %s, err: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("fail to setnx key %s, err: %w", key, err)
	}
	return ok, nil
}

func (r *RedisStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("fail to check key %s, err: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("fail to delete keys %v, err: %w", keys, err)
	}
	return nil
}

func (r *RedisStorage) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfValueScript.Run(ctx, r.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("fail to delete key %s, err: %w", key, err)
	}
	return n == 1, nil
}

func (r *RedisStorage) LowerTo(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("fail to lower key %s, ttl must be positive", key)
	}
	n, err := lowerToScript.Run(ctx, r.client, []string{key}, strconv.FormatInt(value, 10), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("fail to lower key %s, err: %w", key, err)
	}
	return n == 1, nil
}

func (r *RedisStorage) Client() *redis.Client {
	return r.client
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

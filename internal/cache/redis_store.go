package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "cachehandle:"

// RedisStore 适合多实例共享缓存；Expiration 为 0 时条目不过期，淘汰交给 Redis 自身策略。
type RedisStore struct {
	client     *redis.Client
	prefix     string
	expiration time.Duration
}

// RedisOptions holds connection and namespacing settings.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	Expiration time.Duration
}

// NewRedisStore creates a Redis-backed store. The connection is lazy; call
// Ping to verify it.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreFromClient(client, opts.KeyPrefix, opts.Expiration), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, expiration time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if expiration < 0 {
		expiration = 0
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		expiration: expiration,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (*Response, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeResponse(raw)
}

func (s *RedisStore) Write(ctx context.Context, key string, resp *Response) error {
	encoded, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), encoded, s.expiration).Err()
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

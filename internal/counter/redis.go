package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout is the timeout for verifying Redis connection.
const connectionTimeout = 5 * time.Second

// NewRedisClient creates a Redis client and verifies the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// RedisBackend stores counters in Redis. Every write is paired with EXPIRE in
// one MULTI block so a key never outlives its retention.
type RedisBackend struct {
	client redis.Cmdable
}

// NewRedisBackend creates a Redis counter backend
func NewRedisBackend(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, amount)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (b *RedisBackend) HIncrBy(ctx context.Context, key, field string, amount int64, ttl time.Duration) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, field, amount)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (b *RedisBackend) PFAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.PFAdd(ctx, key, member)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) (int64, error) {
	v, err := b.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", key, err)
	}
	return v, nil
}

func (b *RedisBackend) HGet(ctx context.Context, key, field string) (int64, error) {
	v, err := b.client.HGet(ctx, key, field).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter field %s[%s]: %w", key, field, err)
	}
	return v, nil
}

func (b *RedisBackend) PFCount(ctx context.Context, key string) (int64, error) {
	v, err := b.client.PFCount(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sketch %s: %w", key, err)
	}
	return v, nil
}

func (b *RedisBackend) GetString(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get lookup %s: %w", key, err)
	}
	return v, nil
}

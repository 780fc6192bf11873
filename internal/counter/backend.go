package counter

import (
	"fmt"

	"github.com/BarkinBalci/lead-analytics-service/internal/config"
)

// OpenBackend builds the backend selected by cfg.Counter.Backend. The returned
// close function releases the Redis connection and is a no-op for memory.
func OpenBackend(cfg *config.Config) (Backend, func() error, error) {
	switch cfg.Counter.Backend {
	case "memory":
		return NewMemoryBackend(nil), func() error { return nil }, nil
	case "redis", "":
		client, err := NewRedisClient(RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect counter backend: %w", err)
		}
		return NewRedisBackend(client), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported counter backend: %s", cfg.Counter.Backend)
}

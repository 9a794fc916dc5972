package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mls-sync/internal/config"
)

// ErrLockHeld is returned when another holder owns the run lock
var ErrLockHeld = errors.New("run lock is held")

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// releaseScript deletes the lock only when the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock guarantees at most one sync run per source across processes.
// The TTL bounds how long a crashed holder can block the source.
type RunLock struct {
	cache  *RedisCache
	ttl    time.Duration
	prefix string
}

// NewRunLock creates a run lock with the given expiry
func NewRunLock(cache *RedisCache, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RunLock{cache: cache, ttl: ttl, prefix: "mls-sync:run-lock:"}
}

func (l *RunLock) key(source string) string {
	return l.prefix + source
}

// Acquire takes the lock for source and returns the release token.
// ErrLockHeld reports that another run owns it.
func (l *RunLock) Acquire(ctx context.Context, source string) (string, error) {
	token := uuid.NewString()

	ok, err := l.cache.client.SetNX(ctx, l.key(source), token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire run lock for %s: %w", source, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Release drops the lock if token still owns it; an expired or stolen lock is left alone
func (l *RunLock) Release(ctx context.Context, source, token string) error {
	if err := releaseScript.Run(ctx, l.cache.client, []string{l.key(source)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release run lock for %s: %w", source, err)
	}
	return nil
}

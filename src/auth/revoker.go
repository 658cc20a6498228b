package auth

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds connection settings for the revocation list.
type RedisConfig struct {
	Addr     string // Redis address, default "localhost:6379"
	Password string // Redis password, default ""
	DB       int    // Redis database number, default 0
	Prefix   string // Key prefix, default "chatroom:revoked:"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "chatroom:revoked:",
	}
}

// RedisConfigFromEnv loads Redis configuration from environment
// variables, falling back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_REVOKED_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	return cfg
}

// Revoker keeps revoked token ids in Redis, each expiring with the
// token it blocks. When Redis is unreachable the server runs without
// logout revocation rather than refusing to start.
type Revoker struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger

	mu     sync.RWMutex
	active bool
}

// NewRevoker creates a revocation list backed by Redis.
func NewRevoker(cfg *RedisConfig, logger zerolog.Logger) *Revoker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Revoker{
		client: client,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "revoker").Logger(),
	}
}

// Start verifies the Redis connection.
func (r *Revoker) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.active = true
	r.mu.Unlock()
	r.logger.Info().Msg("revocation list connected")
	return nil
}

// Available reports whether the revocation list is reachable.
func (r *Revoker) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Revoke marks a token id as revoked until the given time.
func (r *Revoker) Revoke(ctx context.Context, jti string, until time.Time) error {
	if !r.Available() {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+jti, "1", ttl).Err()
}

// IsRevoked reports whether a token id is on the revocation list. A
// Redis error counts as not revoked.
func (r *Revoker) IsRevoked(ctx context.Context, jti string) bool {
	if !r.Available() {
		return false
	}
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		r.logger.Error().Err(err).Msg("revocation lookup failed")
		return false
	}
	return n > 0
}

// Stop closes the Redis connection.
func (r *Revoker) Stop() error {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
	return r.client.Close()
}

package inference

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig configures the Redis completion cache
type CacheConfig struct {
	RedisURL   string        `json:"redis_url"`
	PoolSize   int           `json:"pool_size"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// CachedBackend wraps a Backend with a Redis cache keyed on the full request.
// Re-scans of the same encounter replay extractions instead of re-invoking
// the model, which also keeps re-runs reproducible.
type CachedBackend struct {
	backend    Backend
	redis      *redis.Client
	defaultTTL time.Duration
}

type cachedResponse struct {
	Response  *GenerateResponse `json:"response"`
	CachedAt  time.Time         `json:"cached_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// NewCachedBackend wraps backend with a Redis completion cache
func NewCachedBackend(backend Backend, config CacheConfig) (*CachedBackend, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &CachedBackend{
		backend:    backend,
		redis:      client,
		defaultTTL: ttl,
	}, nil
}

// Generate returns a cached completion when one exists, falling back to the
// wrapped backend. Cache failures degrade to a direct call.
func (c *CachedBackend) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	key := c.cacheKey(req)

	val, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var cached cachedResponse
		if err := json.Unmarshal([]byte(val), &cached); err == nil && time.Now().Before(cached.ExpiresAt) {
			return cached.Response, nil
		}
		c.redis.Del(ctx, key)
	}

	resp, err := c.backend.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	data, err := json.Marshal(cachedResponse{
		Response:  resp,
		CachedAt:  now,
		ExpiresAt: now.Add(c.defaultTTL),
	})
	if err == nil {
		c.redis.Set(ctx, key, data, c.defaultTTL)
	}
	return resp, nil
}

// Health checks the wrapped backend
func (c *CachedBackend) Health(ctx context.Context) error {
	return c.backend.Health(ctx)
}

// Close releases the Redis connection pool
func (c *CachedBackend) Close() error {
	return c.redis.Close()
}

func (c *CachedBackend) cacheKey(req *GenerateRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.3f|%d|%s", req.Model, req.System, req.Prompt, req.Temperature, req.MaxTokens, req.Format)
	return fmt.Sprintf("inference:generate:%x", h.Sum(nil))
}

var _ Backend = (*CachedBackend)(nil)

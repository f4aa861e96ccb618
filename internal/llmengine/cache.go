package llmengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EmbedCache memoizes embedding calls by content hash, fronting a slow
// or rate-limited remote Embed call. Grounded on the redis-backed
// get/set-with-json-marshal pattern used by the wider codebase's cache
// layer (internal/cache/redis.go: Set marshals to JSON, Get unmarshals,
// both tolerate a disabled/unreachable cache by falling through).
type EmbedCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewEmbedCache connects to addr/db with password, returning a cache
// that degrades to cache-miss-always behavior if Redis is unreachable.
func NewEmbedCache(addr, password string, db int, ttl time.Duration, logger *logrus.Logger) *EmbedCache {
	if logger == nil {
		logger = logrus.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbedCache{client: client, ttl: ttl, logger: logger}
}

func cacheKey(engineName, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embed:%s:%s", engineName, hex.EncodeToString(sum[:]))
}

// Get returns a cached embedding and true, or nil and false on a miss
// or any cache error (treated the same as a miss — the cache is never
// allowed to turn into a hard failure path).
func (c *EmbedCache) Get(ctx context.Context, engineName, text string) ([]float64, bool) {
	raw, err := c.client.Get(ctx, cacheKey(engineName, text)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.logger.WithError(err).Warn("embed cache: corrupt entry")
		return nil, false
	}
	return vec, true
}

// Set stores an embedding under its content hash. Errors are logged
// and swallowed — a cache-write failure must never fail the caller's
// request.
func (c *EmbedCache) Set(ctx context.Context, engineName, text string, vec []float64) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(engineName, text), raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("embed cache: write failed")
	}
}

// CachedEngine wraps an Engine, memoizing Embed through an EmbedCache
// while leaving ChatJSON/ChatText untouched.
type CachedEngine struct {
	inner Engine
	cache *EmbedCache
}

// NewCachedEngine wraps inner with cache for Embed calls.
func NewCachedEngine(inner Engine, cache *EmbedCache) *CachedEngine {
	return &CachedEngine{inner: inner, cache: cache}
}

func (e *CachedEngine) Name() string   { return e.inner.Name() }
func (e *CachedEngine) Dimension() int { return e.inner.Dimension() }

func (e *CachedEngine) Embed(ctx context.Context, text string) []float64 {
	if vec, ok := e.cache.Get(ctx, e.inner.Name(), text); ok {
		return vec
	}
	vec := e.inner.Embed(ctx, text)
	e.cache.Set(ctx, e.inner.Name(), text, vec)
	return vec
}

func (e *CachedEngine) ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (JudgeResult, error) {
	return e.inner.ChatJSON(ctx, systemPrompt, userPrompt)
}

func (e *CachedEngine) ChatText(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage) (string, error) {
	return e.inner.ChatText(ctx, systemPrompt, userPrompt, history)
}

package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vampirenirmal/serialist/internal/storage"
)

// ResponseCache memoizes generation responses on the storage backend. Dry
// runs and crash-resumed sessions replay the same prompt; paying for the
// same tokens twice is pointless.
type ResponseCache struct {
	storage storage.Storage
	ttl     time.Duration
	logger  *slog.Logger
}

type cachedResponse struct {
	Response  Response  `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

func NewResponseCache(store storage.Storage, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	return &ResponseCache{
		storage: store,
		ttl:     ttl,
		logger:  logger.With("component", "response_cache"),
	}
}

func (c *ResponseCache) Get(ctx context.Context, req Request) (*Response, bool) {
	key := c.hashRequest(req)
	path := fmt.Sprintf("cache/responses/%s.json", key)

	data, err := c.storage.Load(ctx, path)
	if err != nil {
		c.logger.Debug("cache miss", "key", key)
		return nil, false
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Error("cache entry unreadable", "key", key, "error", err)
		return nil, false
	}

	age := time.Since(cached.Timestamp)
	if age > c.ttl {
		c.logger.Debug("cache entry expired", "key", key, "age", age, "ttl", c.ttl)
		return nil, false
	}

	c.logger.Info("cache hit", "key", key, "age", age)
	return &cached.Response, true
}

func (c *ResponseCache) Set(ctx context.Context, req Request, resp *Response) error {
	key := c.hashRequest(req)
	path := fmt.Sprintf("cache/responses/%s.json", key)

	data, err := json.Marshal(cachedResponse{Response: *resp, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	if err := c.storage.Save(ctx, path, data); err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	c.logger.Debug("cache set", "key", key)
	return nil
}

func (c *ResponseCache) hashRequest(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	h.Write([]byte(fmt.Sprintf("%d:%.2f", req.MaxTokens, req.Temperature)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// CachedGenerator wraps a Generator with the response cache.
type CachedGenerator struct {
	inner Generator
	cache *ResponseCache
}

func NewCachedGenerator(inner Generator, cache *ResponseCache) *CachedGenerator {
	return &CachedGenerator{inner: inner, cache: cache}
}

func (g *CachedGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if resp, ok := g.cache.Get(ctx, req); ok {
		return resp, nil
	}
	resp, err := g.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := g.cache.Set(ctx, req, resp); err != nil {
		// A write failure degrades to uncached operation, nothing worse.
		g.cache.logger.Warn("cache write failed", "error", err)
	}
	return resp, nil
}

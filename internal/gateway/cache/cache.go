// Package cache stores completed non-streaming responses keyed by a digest
// of the normalized request, so identical prompts within the TTL are served
// without an upstream call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
)

// Store is the TTL key-value backend the cache writes through.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// ErrMiss is returned by Get when no cached response exists.
var ErrMiss = errors.New("cache miss")

// Cache is a read-through response cache. Only deterministic requests are
// cacheable; streaming and sampled requests always go upstream.
type Cache struct {
	store      Store
	defaultTTL time.Duration
	log        *slog.Logger
}

func New(store Store, defaultTTL time.Duration, log *slog.Logger) *Cache {
	return &Cache{store: store, defaultTTL: defaultTTL, log: log}
}

// cacheKeyRequest is the canonical subset of request fields that determine
// the response. Field order is fixed so the digest is stable.
type cacheKeyRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system"`
	Messages    []translate.Message `json:"messages"`
	Temperature *float32            `json:"temperature"`
	TopP        *float32            `json:"top_p"`
	MaxTokens   int                 `json:"max_tokens"`
	Stop        []string            `json:"stop"`
}

// Key derives the cache key for a request.
func Key(req *translate.Request) string {
	canonical, _ := json.Marshal(cacheKeyRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	})
	sum := sha256.Sum256(canonical)
	return "llm:cache:" + hex.EncodeToString(sum[:])
}

// Cacheable reports whether a request may be served from or written to the
// cache. Tool calls are excluded: their results depend on caller-side state.
func Cacheable(req *translate.Request) bool {
	return !req.Stream && len(req.Tools) == 0
}

// Get returns the cached response for req, or ErrMiss.
func (c *Cache) Get(ctx context.Context, req *translate.Request) (*translate.Response, error) {
	raw, err := c.store.Get(ctx, Key(req))
	if err != nil {
		return nil, ErrMiss
	}
	var resp translate.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.log.Warn("cache entry corrupt, ignoring", "error", err)
		return nil, ErrMiss
	}
	return &resp, nil
}

// Set writes a response under the request's key. A non-positive ttl falls
// back to the cache default. Write failures are logged, not returned; the
// response has already been served.
func (c *Cache) Set(ctx context.Context, req *translate.Request, resp *translate.Response, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		c.log.Warn("cache encode failed", "error", err)
		return
	}
	if err := c.store.Set(ctx, Key(req), string(raw), ttl); err != nil {
		c.log.Warn("cache write failed", "error", err)
	}
}

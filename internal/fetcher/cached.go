package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantlab/quantagent/internal/cache"
	"github.com/quantlab/quantagent/internal/observability"
)

// Cached composes a cache.Store with one provider Client. Fetch never fails
// outward: on a cache hit the stored payload is returned, on a miss the
// provider is invoked, successes are cached for the configured TTL, and every
// failure degrades to the provider's empty value. Failures are not cached so
// the next request retries the network.
type Cached struct {
	client  Client
	store   cache.Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.MetricsCollector // nil = metrics disabled
}

// NewCached wraps client with the given store. A non-positive ttl defaults to
// cache.DefaultTTL.
func NewCached(client Client, store cache.Store, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Cached{client: client, store: store, ttl: ttl, logger: logger}
}

// WithMetrics attaches cache hit/miss accounting.
func (c *Cached) WithMetrics(m *observability.MetricsCollector) *Cached {
	c.metrics = m
	return c
}

// Name returns the wrapped provider's capability name.
func (c *Cached) Name() string { return c.client.Name() }

// Validate delegates to the wrapped provider.
func (c *Cached) Validate(params map[string]any) error {
	return c.client.Validate(params)
}

// Fetch resolves params through the cache, falling through to the provider on
// a miss. The returned payload is always well-typed; callers never see an error.
func (c *Cached) Fetch(ctx context.Context, params map[string]any) []byte {
	key := cache.Key(c.client.Name(), params)

	if payload, ok := c.store.Get(ctx, key); ok {
		c.logger.DebugContext(ctx, "cache hit",
			slog.String("provider", c.client.Name()),
			slog.String("key", key),
		)
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.WithLabelValues(c.client.Name()).Inc()
		}
		return payload
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(c.client.Name()).Inc()
	}

	if err := c.client.Validate(params); err != nil {
		c.logger.WarnContext(ctx, "invalid provider parameters",
			slog.String("provider", c.client.Name()),
			slog.String("error", err.Error()),
		)
		return c.client.Empty()
	}

	result := c.client.Invoke(ctx, params)
	if !result.Ok() {
		level := slog.LevelWarn
		if errors.Is(result.Err, ErrMissingCredential) {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "provider call failed",
			slog.String("provider", c.client.Name()),
			slog.String("error", result.Err.Error()),
		)
		return c.client.Empty()
	}

	// Storage faults degrade to a skipped write; the payload is still served.
	if err := c.store.Put(ctx, key, result.Payload, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "cache write failed",
			slog.String("provider", c.client.Name()),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return result.Payload
}

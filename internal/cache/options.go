package cache

import (
	"time"

	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/domain/coalesce"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/pkg/logger"
)

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the source of snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCoalescer replaces the per-scope outstanding-work tracker.
func WithCoalescer(co coalesce.Coalescer) Option {
	return func(c *Cache) {
		if co != nil {
			c.coalescer = co
		}
	}
}

// WithSubscriptions replaces the function deriving the store queries a
// scope depends on.
func WithSubscriptions(fn func(model.Scope, model.ResolvedSet) []repository.Query) Option {
	return func(c *Cache) {
		if fn != nil {
			c.queries = fn
		}
	}
}

// WithIdleTTL lets EvictIdle forget scopes unread for longer than ttl.
// Zero disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl >= 0 {
			c.idleTTL = ttl
		}
	}
}

// WithMaxScopes caps the number of watched scopes. Zero means no cap.
func WithMaxScopes(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.maxScopes = n
		}
	}
}

package ai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vibe-run/vibe/internal/cache"
	"github.com/vibe-run/vibe/internal/pkg/crypto"
)

// contextCacheTTL bounds how long a chunked local-context rendering
// stays valid: long enough to cover a multi-round tool-calling loop's
// retries, short enough that a stale frame snapshot never outlives the
// run that produced it.
const contextCacheTTL = 10 * time.Minute

// ContextCache memoizes splitChunks over a rendered local-context
// string, keyed by its content hash, so a retried round (or a sibling
// process sharing the same Redis-backed cache) doesn't re-split and
// re-mark cache-break boundaries for context that has not changed.
type ContextCache struct {
	backend cache.Cache
}

// NewContextCache wraps a cache.Cache for context-chunk memoization.
// A nil backend disables caching: chunks() always misses.
func NewContextCache(backend cache.Cache) *ContextCache {
	return &ContextCache{backend: backend}
}

func (c *ContextCache) key(localContext string) string {
	return "ctx:" + crypto.HashString(localContext)
}

// chunks returns a previously cached split of localContext, if any.
func (c *ContextCache) chunks(ctx context.Context, localContext string) ([]string, bool) {
	if c == nil || c.backend == nil || localContext == "" {
		return nil, false
	}
	raw, err := c.backend.Get(ctx, c.key(localContext))
	if err != nil {
		return nil, false
	}
	var chunks []string
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, false
	}
	return chunks, true
}

// put stores the chunked split of localContext for later reuse.
func (c *ContextCache) put(ctx context.Context, localContext string, chunks []string) {
	if c == nil || c.backend == nil || localContext == "" {
		return
	}
	raw, err := json.Marshal(chunks)
	if err != nil {
		return
	}
	_ = c.backend.Set(ctx, c.key(localContext), raw, contextCacheTTL)
}

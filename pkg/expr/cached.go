package expr

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/lemonberrylabs/ruleengine/pkg/cache"
)

// DefaultASTTTL is how long a parsed tree stays in the cache.
const DefaultASTTTL = 24 * time.Hour

// CacheKey returns the store key for rule source text.
func CacheKey(text string) string {
	return "ruleengine:ast:" + GrammarVersion + ":" + strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// CachedParser parses rule text through a cache.Store. Results are the same
// as Parse whether the store is warm, cold, failing or a cache.NopStore.
// Concurrent misses for the same text share one parse.
type CachedParser struct {
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
	onHit  func(hit bool)

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// CachedParserOption configures a CachedParser.
type CachedParserOption func(*CachedParser)

// WithTTL sets the cache entry lifetime.
func WithTTL(ttl time.Duration) CachedParserOption {
	return func(c *CachedParser) { c.ttl = ttl }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(l *slog.Logger) CachedParserOption {
	return func(c *CachedParser) { c.logger = l }
}

// WithLookupHook registers a callback invoked after every cache lookup.
func WithLookupHook(fn func(hit bool)) CachedParserOption {
	return func(c *CachedParser) { c.onHit = fn }
}

// NewCachedParser creates a parser backed by store. A nil store disables caching.
func NewCachedParser(store cache.Store, opts ...CachedParserOption) *CachedParser {
	if store == nil {
		store = cache.NopStore{}
	}
	c := &CachedParser{
		store:  store,
		ttl:    DefaultASTTTL,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Parse returns the AST for text, from the cache when possible.
func (c *CachedParser) Parse(ctx context.Context, text string) (Node, error) {
	if len(text) > MaxSourceLength {
		return Parse(text)
	}
	key := CacheKey(text)

	if blob, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn("ast cache read failed", "key", key, "error", err)
	} else if ok {
		node, err := DecodeNode(blob)
		if err == nil {
			c.record(true)
			return node, nil
		}
		c.logger.Warn("discarding undecodable cached ast", "key", key, "error", err)
	}
	c.record(false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		node, err := Parse(text)
		if err != nil {
			return nil, err
		}
		blob, err := EncodeNode(node)
		if err != nil {
			c.logger.Debug("ast not cacheable", "key", key, "error", err)
			return node, nil
		}
		if err := c.store.Set(ctx, key, blob, c.ttl); err != nil {
			c.logger.Warn("ast cache write failed", "key", key, "error", err)
		}
		return node, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Node), nil
}

// Stats returns cache hit and miss counts.
func (c *CachedParser) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedParser) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.onHit != nil {
		c.onHit(hit)
	}
}

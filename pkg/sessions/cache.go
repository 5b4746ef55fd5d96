package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/quayside-labs/saaskit/pkg/observability"
)

const (
	cacheSize     = 4096
	cacheTTL      = 5 * time.Minute
	redisKeySpace = "session:"
)

// Cache is a two-tier lookup cache keyed by token hash: an in-process LRU in
// front of an optional shared Redis tier. Entries expire quickly; revocation
// additionally purges both tiers so a signed-out token dies immediately on
// this node and within the TTL elsewhere.
type Cache struct {
	local   *lru.LRU[string, *Session]
	redis   *redis.Client
	metrics *observability.Metrics
}

// NewCache creates a session cache. redisClient may be nil for single-node
// deployments; the local tier still applies.
func NewCache(redisClient *redis.Client, metrics *observability.Metrics) *Cache {
	return &Cache{
		local:   lru.NewLRU[string, *Session](cacheSize, nil, cacheTTL),
		redis:   redisClient,
		metrics: metrics,
	}
}

// Get looks the token hash up in both tiers. A Redis hit is promoted into
// the local tier.
func (c *Cache) Get(ctx context.Context, hash string) (*Session, bool) {
	if session, ok := c.local.Get(hash); ok {
		c.metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
		return session, true
	}
	c.metrics.CacheMissesTotal.WithLabelValues("memory").Inc()

	if c.redis == nil {
		return nil, false
	}

	raw, err := c.redis.Get(ctx, redisKeySpace+hash).Bytes()
	if err != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return nil, false
	}
	session := &Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		// A corrupt entry is treated as a miss and overwritten on Set.
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return nil, false
	}
	c.metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	session.TokenHash = hash
	c.local.Add(hash, session)
	return session, true
}

// Set stores the session in both tiers.
func (c *Cache) Set(ctx context.Context, session *Session) {
	c.local.Add(session.TokenHash, session)

	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	c.redis.Set(ctx, redisKeySpace+session.TokenHash, raw, cacheTTL)
}

// Invalidate purges one token hash from both tiers.
func (c *Cache) Invalidate(ctx context.Context, hash string) {
	c.local.Remove(hash)
	if c.redis != nil {
		c.redis.Del(ctx, redisKeySpace+hash)
	}
}

// InvalidateMany purges a batch of token hashes, as produced by the bulk
// revocation queries.
func (c *Cache) InvalidateMany(ctx context.Context, hashes []string) {
	if len(hashes) == 0 {
		return
	}
	keys := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		c.local.Remove(hash)
		keys = append(keys, redisKeySpace+hash)
	}
	if c.redis != nil {
		c.redis.Del(ctx, keys...)
	}
}

// Package cache implements the two-tier authorization decision cache: a
// bounded in-process LRU in front of an optional shared Redis tier.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/hearthside-app/hearthside/internal/authz"
)

const versionKey = "authz:cache:version"

// Config holds cache tunables.
type Config struct {
	// Size bounds the local tier entry count.
	Size int
	// TTL applies to local entries; the shared tier honors per-call TTLs.
	TTL time.Duration
	// OpTimeout bounds every shared-tier round trip.
	OpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = 10000
	}
	if c.TTL <= 0 {
		c.TTL = 60 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
	return c
}

// Cache is safe for concurrent use. Entries are re-derivable decisions,
// so writes are last-writer-wins; consistency comes from invalidation
// being emitted synchronously with grant mutations.
type Cache struct {
	local   *lru.LRU[string, authz.Result]
	shared  *redis.Client
	cfg     Config
	version atomic.Int64
	metrics *metrics
}

// New constructs the cache. A nil shared client degrades to local-only
// operation, which tests rely on.
func New(shared *redis.Client, cfg Config, m *metrics) *Cache {
	cfg = cfg.withDefaults()
	if m == nil {
		m = newMetrics(nil)
	}
	c := &Cache{
		local:   lru.NewLRU[string, authz.Result](cfg.Size, nil, cfg.TTL),
		shared:  shared,
		cfg:     cfg,
		metrics: m,
	}
	if shared != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
		defer cancel()
		if v, err := shared.Get(ctx, versionKey).Int64(); err == nil {
			c.version.Store(v)
		}
	}
	return c
}

func (c *Cache) key(userID, action, resourceID string) string {
	return fmt.Sprintf("authz:v%d:user:%s:%s:%s", c.version.Load(), userID, action, resourceID)
}

// Get checks the local tier, then the shared tier, promoting shared hits
// into local. Shared-tier failures count as misses.
func (c *Cache) Get(ctx context.Context, userID, action, resourceID string) (authz.Result, bool) {
	k := c.key(userID, action, resourceID)
	if res, ok := c.local.Get(k); ok {
		c.metrics.hit("local")
		return res, true
	}
	c.metrics.miss("local")

	if c.shared == nil {
		return authz.Result{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	payload, err := c.shared.Get(ctx, k).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.metrics.backendError()
		} else {
			c.refreshVersion(ctx)
		}
		c.metrics.miss("shared")
		return authz.Result{}, false
	}
	var res authz.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		c.metrics.backendError()
		c.metrics.miss("shared")
		return authz.Result{}, false
	}
	c.metrics.hit("shared")
	c.local.Add(k, res)
	return res, true
}

// Set writes through both tiers.
func (c *Cache) Set(ctx context.Context, userID, action, resourceID string, res authz.Result, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	k := c.key(userID, action, resourceID)
	c.local.Add(k, res)

	if c.shared == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		c.metrics.backendError()
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	if err := c.shared.Set(ctx, k, payload, ttl).Err(); err != nil {
		c.metrics.backendError()
	}
}

// InvalidatePattern removes all keys matching a glob pattern from both
// tiers.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	for _, k := range c.local.Keys() {
		if ok, _ := path.Match(pattern, k); ok {
			c.local.Remove(k)
		}
	}
	c.metrics.invalidation()

	if c.shared == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	iter := c.shared.Scan(ctx, 0, pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 200 {
			if err := c.shared.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.metrics.backendError()
		return err
	}
	if len(keys) > 0 {
		if err := c.shared.Del(ctx, keys...).Err(); err != nil {
			c.metrics.backendError()
			return err
		}
	}
	return nil
}

// InvalidateFromTrigger maps a domain event to its invalidation. Grant
// and delegation mutations clear the affected user's namespace;
// permission-set edits bump the global version.
func (c *Cache) InvalidateFromTrigger(ctx context.Context, ev authz.Event) error {
	switch ev.Type {
	case authz.EventPermissionSetUpdated:
		return c.BumpVersion(ctx)
	case authz.EventRoleAssigned, authz.EventRoleRevoked,
		authz.EventDelegationCreated, authz.EventDelegationRevoked,
		authz.EventEmergencyActivated, authz.EventEmergencyDeactivated:
		if ev.UserID == "" {
			return nil
		}
		return c.InvalidatePattern(ctx, fmt.Sprintf("authz:v%d:user:%s:*", c.version.Load(), ev.UserID))
	default:
		return nil
	}
}

// refreshVersion picks up version bumps made by sibling instances so a
// re-evaluated decision is cached under the current version, not a stale
// one. Called on shared-tier misses; errors leave the version as is.
func (c *Cache) refreshVersion(ctx context.Context) {
	v, err := c.shared.Get(ctx, versionKey).Int64()
	if err != nil {
		return
	}
	if c.version.Swap(v) != v {
		c.local.Purge()
	}
}

// BumpVersion invalidates every entry in O(1): the version is embedded
// in lookup keys, so old entries become unreachable and age out.
func (c *Cache) BumpVersion(ctx context.Context) error {
	c.metrics.invalidation()
	if c.shared != nil {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		v, err := c.shared.Incr(ctx, versionKey).Result()
		if err != nil {
			c.metrics.backendError()
			c.version.Add(1)
			return err
		}
		c.version.Store(v)
	} else {
		c.version.Add(1)
	}
	c.local.Purge()
	return nil
}

// Version exposes the current cache version.
func (c *Cache) Version() int64 {
	return c.version.Load()
}

// HealthStatus values reported by Health.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Health describes local-tier occupancy.
type Health struct {
	Status   string `json:"status"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

// Health reports degraded once the local tier is at 90% capacity.
func (c *Cache) Health() Health {
	h := Health{Status: StatusHealthy, Size: c.local.Len(), Capacity: c.cfg.Size}
	if h.Size*10 >= h.Capacity*9 {
		h.Status = StatusDegraded
	}
	return h
}

// Close releases the local tier. The shared client is owned by the
// caller.
func (c *Cache) Close() {
	c.local.Purge()
}

var _ authz.DecisionCache = (*Cache)(nil)

// Package cache keeps term lookup results in Redis. Keys include the store
// epoch and generation, so a publish makes every older entry unreachable and
// the TTL cleans them up. The epoch keeps processes sharing one Redis from
// reading each other's generations.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/resilience"
)

const keyPrefix = "lookup:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Result is one cached lookup.
type Result struct {
	Term       string   `json:"term"`
	Epoch      string   `json:"epoch"`
	Generation uint64   `json:"generation"`
	Distinct   bool     `json:"distinct,omitempty"`
	IDs        []uint64 `json:"ids"`
}

type LookupCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *LookupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cbCfg := resilience.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 10 * time.Second}
	if m != nil {
		cbCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &LookupCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", cbCfg),
		metrics: m,
		logger:  slog.Default().With("component", "lookup-cache"),
	}
}

// Get returns the cached result for term at the given store epoch and
// generation. Backend failures count as misses.
func (c *LookupCache) Get(ctx context.Context, epoch string, generation uint64, term string, distinct bool) (*Result, bool) {
	key := buildKey(epoch, generation, term, distinct)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if err != nil || data == nil {
		c.miss()
		return nil, false
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	return &res, true
}

// Set stores res under its epoch, generation and term.
func (c *LookupCache) Set(ctx context.Context, res *Result) {
	key := buildKey(res.Epoch, res.Generation, res.Term, res.Distinct)
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs compute once per key no
// matter how many callers miss at the same time. The bool reports a hit.
func (c *LookupCache) GetOrCompute(
	ctx context.Context,
	epoch string,
	generation uint64,
	term string,
	distinct bool,
	compute func() (*Result, error),
) (*Result, bool, error) {
	if res, ok := c.Get(ctx, epoch, generation, term, distinct); ok {
		return res, true, nil
	}
	key := buildKey(epoch, generation, term, distinct)
	val, err, _ := c.group.Do(key, func() (any, error) {
		res, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, res)
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}

// Invalidate deletes every cached lookup.
func (c *LookupCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *LookupCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the Redis circuit breaker state.
func (c *LookupCache) BreakerState() resilience.State {
	return c.breaker.GetState()
}

func (c *LookupCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *LookupCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(epoch string, generation uint64, term string, distinct bool) string {
	raw := fmt.Sprintf("%s|%d|%s|distinct=%t", epoch, generation, strings.TrimSpace(term), distinct)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%d:%x", keyPrefix, epoch, generation, hash[:16])
}

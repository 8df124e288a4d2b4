// Package cache memoises batch search results. A bounded in-process LRU sits
// in front of an optional redis tier; concurrent identical batches are
// coalesced so only one of them runs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/batch"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/resilience"
)

const keyPrefix = "cus:"

// Status tells where a result came from.
type Status string

const (
	StatusLocal Status = "local"
	StatusRedis Status = "redis"
	StatusMiss  Status = "miss"
)

// Store is the shared tier, backed by pkg/redis in searchd.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Key identifies a batch: the project, the segment that answered it, the
// queries in order and every option that changes the answer.
type Key struct {
	Project string
	Segment string
	Queries []parser.Query
	Options batch.Options
}

// String returns the storage key. The project stays readable so one
// project's entries can be dropped by prefix.
func (k Key) String() string {
	d := xxhash.New()
	d.WriteString(k.Segment)
	d.WriteString("\x00")
	enc := json.NewEncoder(d)
	// parser.Query and batch.Options only hold strings, numbers and bools
	_ = enc.Encode(k.Queries)
	_ = enc.Encode(k.Options)
	return keyPrefix + k.Project + ":" + strconv.FormatUint(d.Sum64(), 16)
}

// Stats counts lookups by outcome.
type Stats struct {
	LocalHits int64 `json:"local_hits"`
	RedisHits int64 `json:"redis_hits"`
	Misses    int64 `json:"misses"`
	Entries   int   `json:"local_entries"`
}

// ResultCache is safe for concurrent use. Returned slices are shared with
// the cache and must not be modified.
type ResultCache struct {
	local   *expirable.LRU[string, []merger.Result]
	store   Store
	breaker *resilience.CircuitBreaker
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger

	localHits atomic.Int64
	redisHits atomic.Int64
	misses    atomic.Int64
}

// New creates a ResultCache. store and m may be nil; without a store only
// the local tier is used.
func New(cfg config.RedisConfig, store Store, m *metrics.Metrics) *ResultCache {
	entries := cfg.LocalEntries
	if entries <= 0 {
		entries = 512
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &ResultCache{
		local:   expirable.NewLRU[string, []merger.Result](entries, nil, ttl),
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// Get looks key up in the local tier, then the shared one. A shared hit is
// copied into the local tier.
func (c *ResultCache) Get(ctx context.Context, key Key) ([]merger.Result, Status) {
	k := key.String()
	if results, ok := c.local.Get(k); ok {
		c.hit(StatusLocal)
		return results, StatusLocal
	}
	if results, ok := c.getShared(ctx, k); ok {
		c.local.Add(k, results)
		c.hit(StatusRedis)
		return results, StatusRedis
	}
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
	return nil, StatusMiss
}

// Set stores results in both tiers.
func (c *ResultCache) Set(ctx context.Context, key Key, results []merger.Result) {
	k := key.String()
	c.local.Add(k, results)
	if c.store == nil {
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, k, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached answer for key or runs compute once for
// all concurrent callers with the same key. Errors are not cached.
func (c *ResultCache) GetOrCompute(ctx context.Context, key Key, compute func() ([]merger.Result, error)) ([]merger.Result, Status, error) {
	if results, status := c.Get(ctx, key); status != StatusMiss {
		return results, status, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		results, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, results)
		return results, nil
	})
	if err != nil {
		return nil, StatusMiss, err
	}
	return val.([]merger.Result), StatusMiss, nil
}

// Invalidate drops every entry of project from both tiers.
func (c *ResultCache) Invalidate(ctx context.Context, project string) error {
	prefix := keyPrefix + project + ":"
	removed := 0
	for _, k := range c.local.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.local.Remove(k)
			removed++
		}
	}
	var deleted int64
	if c.store != nil {
		err := c.breaker.Execute(func() error {
			var err error
			deleted, err = c.store.DeletePrefix(ctx, prefix)
			return err
		})
		if err != nil {
			return fmt.Errorf("invalidating cache for %s: %w", project, err)
		}
	}
	c.logger.Info("cache invalidated", "project", project, "local_removed", removed, "shared_deleted", deleted)
	return nil
}

// Stats returns the lookup counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		LocalHits: c.localHits.Load(),
		RedisHits: c.redisHits.Load(),
		Misses:    c.misses.Load(),
		Entries:   c.local.Len(),
	}
}

func (c *ResultCache) getShared(ctx context.Context, k string) ([]merger.Result, bool) {
	if c.store == nil {
		return nil, false
	}
	var data []byte
	var found bool
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.store.Get(ctx, k)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn("cache get failed", "key", k, "error", err)
		}
		return nil, false
	}
	if !found {
		return nil, false
	}
	var results []merger.Result
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		return nil, false
	}
	return results, true
}

func (c *ResultCache) hit(status Status) {
	switch status {
	case StatusLocal:
		c.localHits.Add(1)
	case StatusRedis:
		c.redisHits.Add(1)
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(string(status)).Inc()
	}
}

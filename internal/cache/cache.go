// Package cache memoizes linear model scores keyed by weights and features.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

// Cache defines the interface for score caching implementations.
// Get returns a cached score if present and not expired; Set stores one for the backend's TTL.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, value float64) error
}

// ScoreKey derives a cache key from the persisted weights line and the features. Any training
// run changes the weights line, so stale scores are never served after the model moves.
// The key is the hex SHA-256 of the full input, short enough for memcached.
func ScoreKey(weights string, f models.Features) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s", weights,
		fmtFloat(f.RainMm), fmtFloat(f.WindKph), fmtFloat(f.TempC), fmtFloat(f.HumidityPct), fmtFloat(f.SoilSatPct))
	return hex.EncodeToString(h.Sum(nil))
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// InMemoryCache is a size-bounded LRU with a fixed TTL. Safe for concurrent use.
type InMemoryCache struct {
	lru *expirable.LRU[string, float64]
}

// NewInMemoryCache creates a cache holding at most size entries, each for ttl.
func NewInMemoryCache(size int, ttl time.Duration) *InMemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &InMemoryCache{lru: expirable.NewLRU[string, float64](size, nil, ttl)}
}

// Get implements Cache.Get. Expired entries are reported as misses.
func (c *InMemoryCache) Get(ctx context.Context, key string) (float64, bool, error) {
	v, ok := c.lru.Get(key)
	return v, ok, nil
}

// Set implements Cache.Set.
func (c *InMemoryCache) Set(ctx context.Context, key string, value float64) error {
	c.lru.Add(key, value)
	return nil
}

// Len returns the number of live entries.
func (c *InMemoryCache) Len() int {
	return c.lru.Len()
}

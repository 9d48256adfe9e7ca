package datasets

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/resource"
)

var (
	shardCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "designbench",
		Subsystem: "datasets",
		Name:      "shard_cache_hits_total",
		Help:      "Shard loads served from the decoded shard cache.",
	})
	shardCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "designbench",
		Subsystem: "datasets",
		Name:      "shard_cache_misses_total",
		Help:      "Shard loads that decoded the file.",
	})
)

// DefaultCacheBytes bounds the shared decoded shard cache.
const DefaultCacheBytes = 512 << 20

// ShardCache keeps recently decoded shards in memory, keyed by local path.
// Entries are evicted by size, so iterating a dataset larger than the cache
// keeps at most a few shards resident.
type ShardCache struct {
	c *ristretto.Cache
}

// NewShardCache builds a cache holding up to maxBytes of decoded payload.
func NewShardCache(maxBytes int64) (*ShardCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shard cache: %w", err)
	}
	return &ShardCache{c: c}, nil
}

var (
	defaultCacheOnce sync.Once
	defaultCache     *ShardCache
)

// DefaultShardCache is shared by datasets that are not given their own cache.
func DefaultShardCache() *ShardCache {
	defaultCacheOnce.Do(func() {
		c, err := NewShardCache(DefaultCacheBytes)
		if err != nil {
			log.Warn().Err(err).Msg("shard cache disabled")
			return
		}
		defaultCache = c
	})
	return defaultCache
}

func (c *ShardCache) get(key string) (*array.Array, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.c.Get(key)
	if !ok {
		return nil, false
	}
	a, ok := v.(*array.Array)
	return a, ok
}

func (c *ShardCache) set(key string, a *array.Array) {
	if c == nil {
		return
	}
	c.c.Set(key, a, a.Bytes())
}

// Clear drops every cached shard, e.g. after shard files were rewritten.
func (c *ShardCache) Clear() {
	if c != nil {
		c.c.Clear()
	}
}

// fileSource is a shard backed by a resource on disk.
type fileSource struct {
	res   *resource.Resource
	rows  int
	cache *ShardCache
}

func (s *fileSource) Name() string { return s.res.Path() }
func (s *fileSource) Len() int     { return s.rows }

func (s *fileSource) Load(ctx context.Context) (*array.Array, error) {
	if a, ok := s.cache.get(s.res.Path()); ok {
		shardCacheHits.Inc()
		return a, nil
	}
	shardCacheMisses.Inc()

	path, err := s.res.EnsureLocal(ctx)
	if err != nil {
		return nil, err
	}
	a, err := array.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard %s: %w", path, err)
	}
	if a.Rows() != s.rows {
		return nil, fmt.Errorf("%w: shard %s holds %d rows, header said %d",
			ErrShardLengthMismatch, path, a.Rows(), s.rows)
	}
	log.Debug().Str("shard", path).Int("rows", a.Rows()).Msg("decoded shard")
	s.cache.set(path, a)
	return a, nil
}

// memorySource is a shard held in memory.
type memorySource struct {
	name string
	a    *array.Array
}

func (s *memorySource) Name() string { return s.name }
func (s *memorySource) Len() int     { return s.a.Rows() }

func (s *memorySource) Load(context.Context) (*array.Array, error) { return s.a, nil }

// NewMemorySource wraps a as a shard. a must not be modified afterwards.
func NewMemorySource(name string, a *array.Array) Source {
	return &memorySource{name: name, a: a}
}

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/simplelru"
)

// BackendMemory names the in-process store in metrics and configuration.
const BackendMemory = "memory"

// InMemoryBucketStore is a sharded, bounded, in-process BucketStore.
//
// Keys are spread over a fixed number of shards by hash. Each shard has its own
// mutex and LRU, so accesses to keys on different shards never contend, and
// every Apply on one key is serialised by its shard lock.
//
// MaxKeysPerShard is a soft cap. When a shard is full, expired buckets among
// its least recently used entries are dropped. A live bucket is never
// dropped: if none of them has expired the shard grows by another
// MaxKeysPerShard entries instead.
type InMemoryBucketStore struct {
	shards  []*bucketShard
	mask    uint64
	metrics RateLimitMetrics
}

type bucketShard struct {
	mu   sync.Mutex
	lru  *simplelru.LRU
	size int
	step int
}

// InMemoryStoreConfig holds configuration for InMemoryBucketStore.
type InMemoryStoreConfig struct {
	// Shards is the number of lock shards. Rounded up to a power of two.
	// Default: 32
	Shards int

	// MaxKeysPerShard is the initial size of each shard and the amount it
	// grows by when full of live buckets.
	// Default: 4096
	MaxKeysPerShard int

	// Metrics receives counts of reclaimed expired buckets. Default: NoOpMetrics
	Metrics RateLimitMetrics
}

// DefaultInMemoryStoreConfig returns the default configuration.
func DefaultInMemoryStoreConfig() InMemoryStoreConfig {
	return InMemoryStoreConfig{
		Shards:          32,
		MaxKeysPerShard: 4096,
		Metrics:         NewNoOpMetrics(),
	}
}

// reclaimScan is how many of the oldest entries a full shard inspects for
// expired buckets before growing.
const reclaimScan = 16

// NewInMemoryBucketStore creates a sharded in-memory store.
func NewInMemoryBucketStore(config InMemoryStoreConfig) (*InMemoryBucketStore, error) {
	defaults := DefaultInMemoryStoreConfig()
	if config.Shards <= 0 {
		config.Shards = defaults.Shards
	}
	if config.MaxKeysPerShard <= 0 {
		config.MaxKeysPerShard = defaults.MaxKeysPerShard
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}

	n := nextPowerOfTwo(config.Shards)
	shards := make([]*bucketShard, n)
	for i := range shards {
		lru, err := simplelru.NewLRU(config.MaxKeysPerShard, nil)
		if err != nil {
			return nil, fmt.Errorf("create shard %d: %w", i, err)
		}
		shards[i] = &bucketShard{lru: lru, size: config.MaxKeysPerShard, step: config.MaxKeysPerShard}
	}

	return &InMemoryBucketStore{
		shards:  shards,
		mask:    uint64(n - 1),
		metrics: config.Metrics,
	}, nil
}

// Apply implements BucketStore.
func (s *InMemoryBucketStore) Apply(ctx context.Context, key string, cfg LimitConfig, now time.Time, consume bool) (Bucket, bool, error) {
	if err := ctx.Err(); err != nil {
		return Bucket{}, false, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var current Bucket
	v, found := sh.lru.Get(key)
	if found {
		current = v.(Bucket)
	} else if sh.lru.Len() >= sh.size {
		if n := sh.reclaim(now); n > 0 {
			s.metrics.RecordEviction(BackendMemory, n)
		} else {
			sh.grow()
		}
	}

	next, ok := current.Advance(cfg, now, consume)
	sh.lru.Add(key, next)
	return next, ok, nil
}

// Delete implements BucketStore.
func (s *InMemoryBucketStore) Delete(ctx context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.lru.Remove(key)
	return nil
}

// KeyCount implements BucketStore. Expired buckets that have not been
// reclaimed yet are included.
func (s *InMemoryBucketStore) KeyCount(ctx context.Context) (int, error) {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += sh.lru.Len()
		sh.mu.Unlock()
	}
	return total, nil
}

// Capacity returns the current total size of all shards.
func (s *InMemoryBucketStore) Capacity() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += sh.size
		sh.mu.Unlock()
	}
	return total
}

// ShardCount returns the number of lock shards.
func (s *InMemoryBucketStore) ShardCount() int {
	return len(s.shards)
}

func (s *InMemoryBucketStore) shardFor(key string) *bucketShard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// reclaim removes expired buckets among the oldest entries and returns how
// many it removed. Caller holds mu.
func (sh *bucketShard) reclaim(now time.Time) int {
	keys := sh.lru.Keys()
	if len(keys) > reclaimScan {
		keys = keys[:reclaimScan]
	}
	removed := 0
	for _, k := range keys {
		v, ok := sh.lru.Peek(k)
		if !ok {
			continue
		}
		if v.(Bucket).Expired(now) {
			sh.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// grow raises the shard size so the next Add cannot evict. Caller holds mu.
func (sh *bucketShard) grow() {
	sh.size += sh.step
	sh.lru.Resize(sh.size)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

package osmdata

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/osm"
	"github.com/redis/go-redis/v9"

	"github.com/jengzang/porto-trajectory-go/internal/config"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// Way geometry rarely changes
const wayCacheTTL = 7 * 24 * time.Hour

// Cache is a keyed store for fetched geometry and tiles. A miss is reported
// with ok == false and a nil error.
type Cache[K comparable, V any] interface {
	Get(ctx context.Context, key K) (value V, ok bool, err error)
	Set(ctx context.Context, key K, value V) error
}

// MemoryCache is an in-process LRU cache. A capacity of 0 never evicts,
// which suits batch runs over a bounded working set.
type MemoryCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[K]*list.Element
}

type memoryEntry[K comparable, V any] struct {
	key   K
	value V
}

func NewMemoryCache[K comparable, V any](capacity int) *MemoryCache[K, V] {
	return &MemoryCache[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element),
	}
}

func (c *MemoryCache[K, V]) Get(_ context.Context, key K) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false, nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryEntry[K, V]).value, true, nil
}

func (c *MemoryCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*memoryEntry[K, V]).value = value
		c.order.MoveToFront(el)
		return nil
	}

	c.items[key] = c.order.PushFront(&memoryEntry[K, V]{key: key, value: value})
	if c.capacity > 0 && c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryEntry[K, V]).key)
	}
	return nil
}

// Len returns the number of cached entries
func (c *MemoryCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisCache stores JSON-encoded values under prefix+key with an optional TTL
type RedisCache[K comparable, V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache[K comparable, V any](client *redis.Client, prefix string, ttl time.Duration) *RedisCache[K, V] {
	return &RedisCache[K, V]{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache[K, V]) key(k K) string {
	return fmt.Sprintf("%s%v", c.prefix, k)
}

func (c *RedisCache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var value V
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("failed to read cache key %s: %w", c.key(key), err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("failed to decode cache key %s: %w", c.key(key), err)
	}
	return value, true, nil
}

func (c *RedisCache[K, V]) Set(ctx context.Context, key K, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", c.key(key), err)
	}
	return nil
}

func countCache(m *metrics.Collector, name string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(name).Inc()
	} else {
		m.CacheMisses.WithLabelValues(name).Inc()
	}
}

// NewWayCache returns a Redis-backed way cache when REDIS_ADDR is set and an
// in-memory LRU of CACHE_CAPACITY entries otherwise
func NewWayCache(cfg *config.Config) Cache[osm.WayID, models.Way] {
	if cfg.RedisAddr == "" {
		return NewMemoryCache[osm.WayID, models.Way](cfg.CacheCapacity)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return NewRedisCache[osm.WayID, models.Way](client, "porto:way:", wayCacheTTL)
}

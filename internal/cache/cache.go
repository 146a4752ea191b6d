package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(key string) (T, bool)

	// Set stores a value in the cache
	Set(key string, data T)

	// Delete removes a key from the cache
	Delete(key string)

	// Size returns the current number of items in the cache
	Size() int
}

// TTLCache is a typed view over go-cache. Expired items are dropped on
// read and swept by go-cache's janitor every cleanupInterval.
type TTLCache[T any] struct {
	items *gocache.Cache
}

var _ Cache[int] = (*TTLCache[int])(nil)

func NewTTLCache[T any](ttl, cleanupInterval time.Duration) *TTLCache[T] {
	return &TTLCache[T]{items: gocache.New(ttl, cleanupInterval)}
}

func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.items.Get(key)
	if !ok {
		return zero, false
	}
	data, ok := v.(T)
	if !ok {
		return zero, false
	}
	return data, true
}

func (c *TTLCache[T]) Set(key string, data T) {
	c.items.SetDefault(key, data)
}

func (c *TTLCache[T]) Delete(key string) {
	c.items.Delete(key)
}

// Size counts stored items, including expired ones not yet swept.
func (c *TTLCache[T]) Size() int {
	return c.items.ItemCount()
}

func (c *TTLCache[T]) Flush() {
	c.items.Flush()
}

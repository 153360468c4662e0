package cache

import (
	"sync"

	"github.com/lyricvid/render-worker/log"
)

// Cache is a generic string-keyed map guarded by a single mutex. It carries
// no expiry of its own; StreamURLCache layers TTL semantics on top of it for
// the one user that needs them.
type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.Mutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(requestID, key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
	log.Log(requestID, "Deleting from cache", "key", key)
}

func (c *Cache[T]) Get(key string) T {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, ok := c.cache[key]
	if ok {
		return info
	}
	var zero T
	return zero
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}

func (c *Cache[T]) UnittestIntrospection() *map[string]T {
	return &c.cache
}

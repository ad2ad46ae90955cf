// Package cache provides a thread-safe generic cache and the rendered preview cache.
package cache

import "sync"

type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]V),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.items[key]
	return val, ok
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V)
}

func (c *Cache[K, V]) SetTo(items map[K]V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Preview is a rendered post body.
type Preview struct {
	HTML []byte
}

// MaxPreviews bounds the preview cache. Reaching it drops every entry; drafts being edited
// re-render on their next request.
const MaxPreviews = 1024

var previewCache = NewCache[string, *Preview]()

func GetPreview(contentHash string) (*Preview, bool) {
	return previewCache.Get(contentHash)
}

func SetPreview(contentHash string, html []byte) {
	if previewCache.Len() >= MaxPreviews {
		previewCache.Clear()
	}
	previewCache.Set(contentHash, &Preview{HTML: html})
}

func ClearPreviews() {
	previewCache.Clear()
}

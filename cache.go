package sgmailer

import (
	gocache "github.com/patrickmn/go-cache"
)

// TemplateCache maps remote template names to remote template ids.
// Implementations must be safe for concurrent use.
type TemplateCache interface {
	// Get returns the id cached for name.
	Get(name string) (string, bool)

	// Set caches id for name. Entries never expire.
	Set(name, id string)

	// Delete drops the entry for name.
	Delete(name string)

	// Reset drops every entry.
	Reset()

	// Len returns the number of cached entries.
	Len() int
}

// memoryTemplateCache is an in-process TemplateCache.
type memoryTemplateCache struct {
	store *gocache.Cache
}

// NewTemplateCache returns an empty in-memory TemplateCache whose entries
// live until Delete or Reset.
func NewTemplateCache() TemplateCache {
	return &memoryTemplateCache{
		// No default expiration and no janitor goroutine.
		store: gocache.New(gocache.NoExpiration, 0),
	}
}

func (c *memoryTemplateCache) Get(name string) (string, bool) {
	v, ok := c.store.Get(name)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func (c *memoryTemplateCache) Set(name, id string) {
	c.store.Set(name, id, gocache.NoExpiration)
}

func (c *memoryTemplateCache) Delete(name string) {
	c.store.Delete(name)
}

func (c *memoryTemplateCache) Reset() {
	c.store.Flush()
}

func (c *memoryTemplateCache) Len() int {
	return c.store.ItemCount()
}

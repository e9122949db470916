package store

import (
	"sync"
	"time"
)

// cacheTTL время жизни локального кэша чтения. Кэш — только оптимизация
// повторных чтений внутри одного запуска и никогда не авторитетен
// между независимыми вызовами.
const cacheTTL = 5 * time.Second

type cacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// readCache короткоживущий кэш последних прочитанных значений по ключу.
// Живёт внутри конкретного экземпляра стора и не разделяется между
// пространствами имён.
type readCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newReadCache() *readCache {
	return &readCache{entries: make(map[string]cacheEntry), ttl: cacheTTL, now: time.Now}
}

func (c *readCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.payload, true
}

func (c *readCache) put(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{payload: payload, expiresAt: c.now().Add(c.ttl)}
}

func (c *readCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

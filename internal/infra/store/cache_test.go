package store

import (
	"testing"
	"time"
)

func TestReadCacheExpires(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cache := newReadCache()
	cache.now = func() time.Time { return now }

	cache.put("data", []byte(`{"a":1}`))
	if _, ok := cache.get("data"); !ok {
		t.Fatalf("ожидали попадание в кэш сразу после записи")
	}

	now = now.Add(cacheTTL + time.Second)
	if _, ok := cache.get("data"); ok {
		t.Fatalf("ожидали истечение кэша после TTL")
	}
}

func TestReadCacheInvalidate(t *testing.T) {
	cache := newReadCache()
	cache.put("data", []byte(`{}`))
	cache.invalidate("data")
	if _, ok := cache.get("data"); ok {
		t.Fatalf("ожидали пустой кэш после инвалидации")
	}
}

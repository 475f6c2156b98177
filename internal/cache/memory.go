package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is a process-local Cache used when Redis is not configured.
type Memory struct {
	items *ttlcache.Cache[string, []byte]
}

func NewMemory() *Memory {
	return &Memory{items: ttlcache.New[string, []byte](
		// entries keep the ttl they were written with
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := m.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return append([]byte(nil), item.Value()...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	m.items.DeleteExpired()
	m.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (m *Memory) Len() int { return m.items.Len() }

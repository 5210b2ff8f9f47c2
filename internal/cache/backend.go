package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Backend stores cached values and per-namespace version counters.
// Implementations may fail; the Cache treats any error as a miss.
type Backend interface {
	Get(key string) (any, bool, error)
	Set(key string, value any, ttl time.Duration) error
	Version(namespace string) (uint64, error)
	Bump(namespace string) error
}

// Memory is an in-process Backend on top of go-cache.
type Memory struct {
	items *gocache.Cache
}

func NewMemory(defaultTTL, cleanupInterval time.Duration) *Memory {
	return &Memory{items: gocache.New(defaultTTL, cleanupInterval)}
}

func (m *Memory) Get(key string) (any, bool, error) {
	v, ok := m.items.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(key string, value any, ttl time.Duration) error {
	m.items.Set(key, value, ttl)
	return nil
}

func versionKey(namespace string) string {
	return "version:" + namespace
}

func (m *Memory) Version(namespace string) (uint64, error) {
	v, ok := m.items.Get(versionKey(namespace))
	if !ok {
		return 0, nil
	}
	return v.(uint64), nil
}

func (m *Memory) Bump(namespace string) error {
	key := versionKey(namespace)
	for {
		if _, err := m.items.IncrementUint64(key, 1); err == nil {
			return nil
		}
		// Counter does not exist yet. Add fails if another bump created it
		// in the meantime, in which case the increment is retried.
		if err := m.items.Add(key, uint64(1), gocache.NoExpiration); err == nil {
			return nil
		}
	}
}

func (m *Memory) Flush() {
	m.items.Flush()
}

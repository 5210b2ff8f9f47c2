package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Cache is a read-through cache with versioned namespaces. A namespace
// groups related keys (every page of one user's conversation list, say);
// invalidating it bumps its version so all of its keys become unreachable at
// once. A computation that read the old version stores under the old key and
// is never served after the bump.
//
// Values are shared between callers and must be treated as read-only.
type Cache struct {
	backend Backend
	group   singleflight.Group
	log     *logrus.Logger
}

func New(backend Backend, log *logrus.Logger) *Cache {
	return &Cache{backend: backend, log: log}
}

// GetOrCompute returns the value cached under (namespace, key) or runs fn,
// stores its result for ttl and returns it. Concurrent misses for the same
// key share a single fn call. Errors from fn are returned and not cached.
func (c *Cache) GetOrCompute(ctx context.Context, namespace, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	version, err := c.backend.Version(namespace)
	if err != nil {
		c.log.WithError(err).WithField("namespace", namespace).Warn("cache version lookup failed, bypassing cache")
		return fn(ctx)
	}
	fullKey := fmt.Sprintf("%s:v%d:%s", namespace, version, key)

	if v, ok, err := c.backend.Get(fullKey); err != nil {
		c.log.WithError(err).WithField("key", fullKey).Warn("cache read failed")
	} else if ok {
		return v, nil
	}

	v, err, _ := c.group.Do(fullKey, func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.backend.Set(fullKey, v, ttl); err != nil {
			c.log.WithError(err).WithField("key", fullKey).Warn("cache write failed")
		}
		return v, nil
	})
	return v, err
}

// Invalidate drops every key of the given namespaces.
func (c *Cache) Invalidate(namespaces ...string) {
	for _, ns := range namespaces {
		if err := c.backend.Bump(ns); err != nil {
			c.log.WithError(err).WithField("namespace", ns).Error("cache invalidation failed")
		}
	}
}

// Remember is the typed form of GetOrCompute.
func Remember[T any](ctx context.Context, c *Cache, namespace, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.GetOrCompute(ctx, namespace, key, ttl, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		// Another writer used the same key with a different type.
		return fn(ctx)
	}
	return t, nil
}

package cache

import (
	"context"
	"time"

	goCache "github.com/patrickmn/go-cache"
)

const defaultCleanupInterval = 10 * time.Minute

type memoryBackend struct {
	cache *goCache.Cache
}

// NewMemoryBackend returns a process-local backend for single instance
// deployments and tests.
func NewMemoryBackend(ttl time.Duration) Backend {
	return &memoryBackend{cache: goCache.New(ttl, defaultCleanupInterval)}
}

func (b *memoryBackend) Name() string { return "memory" }

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := b.cache.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	raw, ok := value.([]byte)
	if !ok {
		return nil, ErrMiss
	}
	return raw, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.cache.Set(key, value, ttl)
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.cache.Delete(key)
	return nil
}

type noopBackend struct{}

// NewNoopBackend disables caching; every lookup is a miss.
func NewNoopBackend() Backend {
	return noopBackend{}
}

func (noopBackend) Name() string { return "none" }

func (noopBackend) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }

func (noopBackend) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (noopBackend) Delete(context.Context, string) error { return nil }

package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Layer wraps a Cache so that backend failures degrade to a miss. Errors are
// logged at warning level and never returned.
type Layer struct {
	cache  Cache
	ttl    time.Duration
	logger *logrus.Logger
}

func NewLayer(c Cache, ttl time.Duration, logger *logrus.Logger) *Layer {
	if c == nil {
		c = NopCache{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Layer{cache: c, ttl: ttl, logger: logger}
}

func (l *Layer) Get(ctx context.Context, key string, dest any) bool {
	found, err := l.cache.Get(ctx, key, dest)
	if err != nil {
		l.logger.WithError(err).WithField("key", key).Warn("Cache get failed")
		return false
	}
	return found
}

func (l *Layer) Set(ctx context.Context, key string, value any) {
	if err := l.cache.Set(ctx, key, value, l.ttl); err != nil {
		l.logger.WithError(err).WithField("key", key).Warn("Cache set failed")
	}
}

func (l *Layer) Delete(ctx context.Context, keys ...string) {
	if err := l.cache.Delete(ctx, keys...); err != nil {
		l.logger.WithError(err).WithField("keys", keys).Warn("Cache delete failed")
	}
}

// GetOrSet returns the cached value for key, or calls produce and caches its
// result. A nil result is returned but not cached. Producer errors are
// returned unchanged.
func GetOrSet[T any](ctx context.Context, l *Layer, key string, produce func(ctx context.Context) (*T, error)) (*T, error) {
	var cached T
	if l.Get(ctx, key, &cached) {
		return &cached, nil
	}

	value, err := produce(ctx)
	if err != nil {
		return nil, err
	}
	if value != nil {
		l.Set(ctx, key, value)
	}
	return value, nil
}

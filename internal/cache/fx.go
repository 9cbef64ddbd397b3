package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/config"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedis),
	fx.Provide(NewBackend),
	fx.Provide(NewLocker),
	fx.Provide(providePaymentCache),
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// NewRedis returns nil unless the redis backend is configured.
func NewRedis(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.Cache.Backend != config.CacheBackendRedis {
		return nil
	}
	client := NewRedisClient(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.Timeout)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// an unreachable cache degrades to store reads, it never blocks startup
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis cache unreachable at startup", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewBackend(cfg config.Config, client *redis.Client) Backend {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		if client != nil {
			return NewRedisBackend(client)
		}
	case config.CacheBackendMemory:
		return NewMemoryBackend(cfg.Cache.TTL)
	}
	return NewNoopBackend()
}

func providePaymentCache(p Params, backend Backend) PaymentCache {
	return NewPaymentCache(backend, p.Cfg.Cache.TTL, p.Cfg.Cache.Timeout, p.Log, p.ObsMetrics)
}

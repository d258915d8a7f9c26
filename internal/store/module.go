package store

import (
	"context"

	"github.com/webitel/rendezvous-signaling/internal/config"
	"go.uber.org/fx"
)

// Module provides the backing Store: Redis wrapped in the Resilient
// retry/circuit-breaker policy when SIGNALING_REDIS_URL is set, an
// in-process Memory store otherwise (single-instance/dev mode, per spec
// §4.6's note that the store is pluggable behind one interface).
var Module = fx.Module("store",
	fx.Provide(newStore),
	fx.Invoke(func(lc fx.Lifecycle, s Store) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return s.Close()
			},
		})
	}),
)

func newStore(cfg *config.Config) (Store, error) {
	if cfg.RedisURL == "" {
		return NewMemory(), nil
	}
	redis, err := NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return NewResilient(redis, "redis"), nil
}

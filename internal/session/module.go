package session

import (
	"context"
	"time"

	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/metrics"
	"github.com/webitel/rendezvous-signaling/internal/store"
	"go.uber.org/fx"
)

const statsPollInterval = 15 * time.Second

var Module = fx.Module("session",
	fx.Provide(func(st store.Store, cfg *config.Config) *Registry {
		return NewRegistry(st, cfg)
	}),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry, coll *metrics.Collector) {
		stop := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go pollStats(r, coll, stop)
				return nil
			},
			OnStop: func(context.Context) error {
				close(stop)
				return nil
			},
		})
	}),
)

// pollStats mirrors the read-through cache's size into the
// signaling_sessions_active gauge. The cache is an approximation (a session
// evicted from the LRU but still live in the store briefly reads as
// inactive) rather than an exact count, since store.Store has no scan/count
// primitive to ask the backing store directly.
func pollStats(r *Registry, coll *metrics.Collector, stop <-chan struct{}) {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			coll.SetSessionsActive(float64(r.CacheSize()))
		}
	}
}

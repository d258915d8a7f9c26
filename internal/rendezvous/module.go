package rendezvous

import (
	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/metrics"
	"github.com/webitel/rendezvous-signaling/internal/store"
	"go.uber.org/fx"
)

var Module = fx.Module("rendezvous",
	fx.Provide(func(st store.Store, cfg *config.Config, coll *metrics.Collector) *Registry {
		return NewRegistry(st, cfg).WithMetrics(coll)
	}),
)

package ratelimit

import (
	"github.com/webitel/rendezvous-signaling/internal/config"
	"go.uber.org/fx"
	"golang.org/x/time/rate"
)

// Limiters bundles the two keyspaces the spec rate-limits independently:
// register is keyed by source IP (spec §5: 10/min), client is keyed by
// client_id for every authenticated signaling operation (spec §5: 60/s).
type Limiters struct {
	Register *KeyedLimiter
	Client   *KeyedLimiter
}

var Module = fx.Module("ratelimit",
	fx.Provide(func(cfg *config.Config) *Limiters {
		return &Limiters{
			Register: New(rate.Limit(float64(cfg.RegisterRateLimitPerMin)/60.0), cfg.RegisterRateLimitPerMin, 0),
			Client:   New(rate.Limit(float64(cfg.ClientRateLimitPerSec)), cfg.ClientRateLimitPerSec, 0),
		}
	}),
)

package telemetry

import (
	"context"

	"github.com/webitel/rendezvous-signaling/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("telemetry",
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
		var shutdown Shutdown
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				sd, err := Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
				shutdown = sd
				return err
			},
			OnStop: func(ctx context.Context) error {
				if shutdown == nil {
					return nil
				}
				return shutdown(ctx)
			},
		})
		return nil
	}),
)

package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/metrics"
	"go.uber.org/fx"
)

const statsPollInterval = 15 * time.Second

// Module provides the Hub to the fx graph. NewHub itself stays
// constructor-shaped (logger, opts...) so it is trivially testable
// outside of fx; this module just supplies the options fx can't infer.
var Module = fx.Module("registry",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config, coll *metrics.Collector) *Hub {
			return NewHub(logger,
				WithMaxSubscribersPerMailbox(cfg.MaxSubscribersPerMailbox),
				WithSubscriberBufferSize(cfg.SubscriberChannelCap),
				WithMetrics(coll),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub, coll *metrics.Collector) {
		stop := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go pollStats(h, coll, stop)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				close(stop)
				h.Shutdown()
				return nil
			},
		})
	}),
)

// pollStats mirrors HubStats into the mailboxes_active gauge; the hub is
// the only authoritative source for "how many mailboxes have a live
// subscriber right now" since mailboxes can exist in the store with no
// WebSocket attached.
func pollStats(h *Hub, coll *metrics.Collector, stop <-chan struct{}) {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats := h.Stats()
			coll.SetMailboxesActive(float64(stats.TotalMailboxes))
		}
	}
}

package cmd

import (
	"log/slog"
	"os"

	"github.com/webitel/rendezvous-signaling/internal/config"
	httphandler "github.com/webitel/rendezvous-signaling/internal/handler/http"
	"github.com/webitel/rendezvous-signaling/internal/handler/ws"
	"github.com/webitel/rendezvous-signaling/internal/domain/registry"
	"github.com/webitel/rendezvous-signaling/internal/mailbox"
	"github.com/webitel/rendezvous-signaling/internal/metrics"
	"github.com/webitel/rendezvous-signaling/internal/ratelimit"
	"github.com/webitel/rendezvous-signaling/internal/rendezvous"
	"github.com/webitel/rendezvous-signaling/internal/service"
	"github.com/webitel/rendezvous-signaling/internal/session"
	"github.com/webitel/rendezvous-signaling/internal/store"
	"github.com/webitel/rendezvous-signaling/internal/telemetry"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// NewApp wires the full fx graph: config, logger, backing store, the
// session/rendezvous/mailbox registries, the subscription hub, rate
// limiting, metrics and tracing, and finally the HTTP+WebSocket transport.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		fx.WithLogger(fxLogger),
		store.Module,
		session.Module,
		rendezvous.Module,
		registry.Module,
		mailbox.Module,
		ratelimit.Module,
		metrics.Module,
		telemetry.Module,
		service.Module,
		httphandler.Module,
		ws.Module,
	)
}

// ProvideLogger builds the process-wide structured logger: JSON to stdout,
// matching how every other component expects to receive *slog.Logger.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler).With("service", cfg.ServiceName)
}

// fxLogger routes fx's own lifecycle events through the same JSON stdout
// stream at info level, so a misconfigured graph shows up in the same
// place as everything else instead of on a separate fmt.Println channel.
func fxLogger(logger *slog.Logger) fxevent.Logger {
	return &fxevent.SlogLogger{Logger: logger}
}

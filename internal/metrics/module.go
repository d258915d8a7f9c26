package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		prometheus.NewRegistry,
		fx.Annotate(
			func(r *prometheus.Registry) prometheus.Registerer { return r },
			fx.As(new(prometheus.Registerer)),
		),
		fx.Annotate(
			func(r *prometheus.Registry) prometheus.Gatherer { return r },
			fx.As(new(prometheus.Gatherer)),
		),
		New,
	),
)

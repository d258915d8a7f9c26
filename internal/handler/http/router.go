// Package http assembles the chi router for the HTTP+WebSocket surface of
// spec §6: plain JSON request/response bodies, one route per endpoint, a
// middleware chain adapted from the teacher's gRPC interceptor chain
// (infra/server/grpc/interceptors/stream_auth.go) reworked for net/http.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/handler/ws"
	"github.com/webitel/rendezvous-signaling/internal/metrics"
	"github.com/webitel/rendezvous-signaling/internal/ratelimit"
	"github.com/webitel/rendezvous-signaling/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"github.com/prometheus/client_golang/prometheus"
)

type Handler struct {
	logger  *slog.Logger
	pairing service.Pairing
	limits  *ratelimit.Limiters
	metrics *metrics.Collector
	cfg     *config.Config
}

func NewHandler(logger *slog.Logger, pairing service.Pairing, limits *ratelimit.Limiters, coll *metrics.Collector, cfg *config.Config) *Handler {
	return &Handler{logger: logger, pairing: pairing, limits: limits, metrics: coll, cfg: cfg}
}

// NewRouter builds the full chi.Router: recover, request id, access log on
// every route, then request timeout and otel instrumentation scoped to the
// REST group only — the WebSocket route is long-lived by design and must
// not inherit a request timeout meant for JSON round-trips.
func NewRouter(h *Handler, wsHandler *ws.Handler, gatherer prometheus.Gatherer, cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog(h.logger, h.metrics))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(otelhttp.NewMiddleware("signaling"))

		r.Get("/health", h.Health)
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

		r.Post("/register", h.Register)
		r.Post("/heartbeat", h.Heartbeat)
		r.Post("/connection/init", h.ConnectionInit)
		r.Post("/connection/join", h.ConnectionJoin)
		r.Post("/connection/send", h.ConnectionSend)
		r.Post("/connection/recv", h.ConnectionRecv)
	})

	r.Get("/ws/{mailbox_id}", wsHandler.ServeHTTP)

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := gonanoid.New(12)
		if err != nil {
			id = "unavailable"
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

func accessLog(logger *slog.Logger, coll *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			coll.ObserveHTTPRequest(route, statusClass(ww.Status()), elapsed.Seconds())

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", elapsed.Milliseconds(),
				"request_id", requestIDFrom(r.Context()),
			)
		})
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

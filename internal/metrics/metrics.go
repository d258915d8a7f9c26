// Package metrics implements the ambient Prometheus surface, adapted from
// infodancer-pop3d's internal/metrics/prometheus.go: one struct holding
// every collector, constructed against a Registerer and exposing small
// typed methods so callers never touch the prometheus API directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sessionsActive  prometheus.Gauge
	mailboxesActive prometheus.Gauge

	hubFanoutTotal        *prometheus.CounterVec
	hubSubscribersEvicted *prometheus.CounterVec

	rendezvousClaimsTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_http_requests_total",
			Help: "Total HTTP requests handled, by route and status class.",
		}, []string{"route", "status_class"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signaling_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_sessions_active",
			Help: "Approximate active sessions: entries in the session registry's read-through cache.",
		}),
		mailboxesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_mailboxes_active",
			Help: "Number of mailboxes the subscription hub currently holds a subscriber cell for.",
		}),
		hubFanoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_hub_fanout_total",
			Help: "Messages delivered to subscribers by the subscription hub.",
		}, []string{"mailbox_id_present"}),
		hubSubscribersEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_hub_subscribers_evicted_total",
			Help: "Subscribers evicted by the hub, by reason.",
		}, []string{"reason"}),
		rendezvousClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_rendezvous_claims_total",
			Help: "Rendezvous token claim attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.sessionsActive,
		c.mailboxesActive,
		c.hubFanoutTotal,
		c.hubSubscribersEvicted,
		c.rendezvousClaimsTotal,
	)

	return c
}

func (c *Collector) ObserveHTTPRequest(route, statusClass string, seconds float64) {
	c.httpRequestsTotal.WithLabelValues(route, statusClass).Inc()
	c.httpRequestDuration.WithLabelValues(route).Observe(seconds)
}

func (c *Collector) SetSessionsActive(n float64)  { c.sessionsActive.Set(n) }
func (c *Collector) SetMailboxesActive(n float64) { c.mailboxesActive.Set(n) }

func (c *Collector) HubDelivered() { c.hubFanoutTotal.WithLabelValues("true").Inc() }

func (c *Collector) HubSubscriberEvicted(reason string) {
	c.hubSubscribersEvicted.WithLabelValues(reason).Inc()
}

func (c *Collector) RendezvousClaim(outcome string) {
	c.rendezvousClaimsTotal.WithLabelValues(outcome).Inc()
}

package registry

import "time"

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithMaxSubscribersPerMailbox bounds concurrent subscribers per mailbox
// (spec §5 default: 4).
func WithMaxSubscribersPerMailbox(n int) Option {
	return func(h *Hub) { h.maxSubsPerMailbox = n }
}

// WithSubscriberBufferSize sets each subscriber's outbound channel capacity
// (spec §4.4 default: 64).
func WithSubscriberBufferSize(n int) Option {
	return func(h *Hub) { h.subscriberBufSize = n }
}

// WithEvictionInterval configures how often the janitor reclaims cells left
// with no subscribers.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) { h.evictionInterval = d }
}

// WithMetrics attaches the Prometheus-backed reporter; without it the hub
// reports to a no-op sink.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

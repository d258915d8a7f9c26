package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/rendezvous-signaling/internal/domain/model"
)

// Hubber is the external API used by the mailbox store and transport
// handlers.
type Hubber interface {
	// Subscribe attaches a new subscriber to mailboxID, replaying backlog
	// (the caller's own snapshot of the mailbox's current messages, taken
	// immediately before calling Subscribe) before accepting live fan-out.
	// The hub takes backlog as a parameter rather than fetching it itself so
	// that this package never has to depend on the mailbox store — the
	// mailbox store depends on Hubber to publish, so the hub depending back
	// on a mailbox reader would be a cycle at the wiring level even with an
	// interface seam.
	Subscribe(ctx context.Context, mailboxID string, backlog []model.MailboxMessage) (Subscriber, error)
	Unsubscribe(mailboxID string, subscriberID string)
	Publish(mailboxID string, msg model.MailboxMessage)
	// Close evicts every subscriber of mailboxID with reason (spec: "On
	// mailbox delete: hub closes all subscribers with reason mailbox_closed").
	Close(mailboxID string, reason string)
	Shutdown()
}

// Metrics is the subset of metrics.Collector the hub reports to, kept as a
// small local interface so this package never imports the metrics package
// directly.
type Metrics interface {
	HubDelivered()
	HubSubscriberEvicted(reason string)
}

type noopMetrics struct{}

func (noopMetrics) HubDelivered()               {}
func (noopMetrics) HubSubscriberEvicted(string) {}

// LivenessChecker reports whether mailboxID is still live in the backing
// store. Wired in one layer above this package (internal/mailbox/module.go)
// rather than taken as a NewHub parameter: the mailbox store depends on
// Hubber to publish, so this package depending back on the mailbox store
// to check liveness would be an import cycle even through an interface
// seam.
type LivenessChecker func(mailboxID string) bool

// Hub implements Hubber using one cell (actor) per mailbox, adapted from
// the teacher's per-user Hub (internal/domain/registry/hub.go in the
// teacher repo).
type Hub struct {
	logger  *slog.Logger
	metrics Metrics

	cells sync.Map // mailbox_id -> *cell

	maxSubsPerMailbox int
	subscriberBufSize int

	evictionInterval time.Duration
	stopCh           chan struct{}

	livenessMu sync.RWMutex
	liveness   LivenessChecker
}

// NewHub starts the hub's idle-cell janitor.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:            logger,
		metrics:           noopMetrics{},
		maxSubsPerMailbox: 4,
		subscriberBufSize: 64,
		evictionInterval:  30 * time.Second,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.runEvictor()
	return h
}

// SetLivenessChecker wires the mailbox-liveness callback the idle-cell
// janitor uses to detect a mailbox that TTL-reaped out of the store while
// it still has an attached subscriber (spec §4.6: Mailbox Open -> Closed
// on "TTL reap" must still close 4000 every pending subscriber). Safe to
// call after NewHub; the janitor goroutine is already running by then and
// picks up the checker on its next tick.
func (h *Hub) SetLivenessChecker(fn LivenessChecker) {
	h.livenessMu.Lock()
	defer h.livenessMu.Unlock()
	h.liveness = fn
}

func (h *Hub) isLive(mailboxID string) bool {
	h.livenessMu.RLock()
	fn := h.liveness
	h.livenessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn(mailboxID)
}

func (h *Hub) cellFor(mailboxID string) *cell {
	val, _ := h.cells.LoadOrStore(mailboxID, newCell(mailboxID, h.maxSubsPerMailbox, h.metrics.HubSubscriberEvicted))
	return val.(*cell)
}

// Subscribe implements the snapshot-then-fan-out sequence from spec §4.4:
// the mailbox id itself is the capability, so there is no separate
// authorization check at this layer. backlog must be the caller's own
// snapshot of the mailbox's current messages, taken immediately before
// calling Subscribe.
func (h *Hub) Subscribe(ctx context.Context, mailboxID string, backlog []model.MailboxMessage) (Subscriber, error) {
	// The channel holds the whole backlog on top of the usual live-fan-out
	// headroom, so a re-subscribing client always receives the missed range
	// (spec §4.4) even when the backlog is longer than the configured
	// subscriber buffer.
	sub := newSubscriber(mailboxID, h.subscriberBufSize+len(backlog))
	c := h.cellFor(mailboxID)
	c.attach(sub)

	for _, msg := range backlog {
		if !sub.Send(msg) {
			// Backlog alone overflowed the fresh subscriber's buffer; the
			// buffer is sized above to hold it, so this is a fail-safe.
			sub.evict(ReasonSlowConsumer)
			c.detach(sub.id.String())
			break
		}
	}

	return sub, nil
}

func (h *Hub) Unsubscribe(mailboxID string, subscriberID string) {
	if val, ok := h.cells.Load(mailboxID); ok {
		val.(*cell).detach(subscriberID)
	}
}

func (h *Hub) Publish(mailboxID string, msg model.MailboxMessage) {
	if val, ok := h.cells.Load(mailboxID); ok {
		val.(*cell).publish(msg)
		h.metrics.HubDelivered()
	}
}

func (h *Hub) Close(mailboxID string, reason string) {
	if val, ok := h.cells.Load(mailboxID); ok {
		val.(*cell).closeAll(reason)
		h.cells.Delete(mailboxID)
	}
}

func (h *Hub) runEvictor() {
	ticker := time.NewTicker(h.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.reapStaleCells()
		}
	}
}

// reapStaleCells is the background reaper spec §9 calls for: on each tick
// it drops cells with no attached subscriber, and for the rest checks the
// mailbox is still live in the backing store, closing every subscriber
// with mailbox_closed and dropping the cell if it has TTL-reaped out from
// under them. Without this, a subscriber attached to a mailbox whose TTL
// expires passively in the store never learns its mailbox is gone: nothing
// else calls Hub.Close for a TTL reap (only the explicit Store.Delete path
// does), and ping/pong alone keeps the socket looking alive.
func (h *Hub) reapStaleCells() {
	reaped := 0
	h.cells.Range(func(key, value any) bool {
		c := value.(*cell)
		if c.isEmpty() {
			h.cells.Delete(key)
			reaped++
			return true
		}
		if mailboxID, ok := key.(string); ok && !h.isLive(mailboxID) {
			c.closeAll(ReasonMailboxClosed)
			h.cells.Delete(key)
			reaped++
		}
		return true
	})
	if reaped > 0 {
		h.logger.Debug("hub: reclaimed stale mailbox cells", "count", reaped)
	}
}

// Stats snapshots hub occupancy for the periodic gauge updater in
// metrics.Module; it is not exposed on any client-facing endpoint.
func (h *Hub) Stats() model.HubStats {
	stats := model.HubStats{}
	h.cells.Range(func(_, value any) bool {
		stats.TotalMailboxes++
		stats.TotalSubscribers += value.(*cell).subscriberCount()
		return true
	})
	return stats
}

func (h *Hub) Shutdown() {
	close(h.stopCh)
	h.cells.Range(func(key, value any) bool {
		value.(*cell).closeAll(ReasonMailboxClosed)
		return true
	})
}

// Package registry is the Subscription Hub (spec §4.4): an in-process
// fan-out layer that delivers newly appended mailbox messages to
// WebSocket/long-poll subscribers in seq order. Adapted from the teacher's
// Virtual Cell (Actor) registry — cells here are keyed by mailbox_id
// instead of user_id, and "sessions" are pairing subscribers instead of
// gRPC streams.
package registry

import (
	"sync"

	"github.com/webitel/rendezvous-signaling/internal/domain/model"
)

// cell holds every active subscriber for one mailbox.
type cell struct {
	mailboxID string
	maxSubs   int
	onEvict   func(reason string)

	mu          sync.RWMutex
	subscribers map[string]*subscriber // keyed by subscriber id string
}

func newCell(mailboxID string, maxSubs int, onEvict func(reason string)) *cell {
	return &cell{
		mailboxID:   mailboxID,
		maxSubs:     maxSubs,
		onEvict:     onEvict,
		subscribers: make(map[string]*subscriber),
	}
}

// attach registers sub, first evicting one already-attached subscriber if
// the cell is at the configured per-mailbox cap (spec §5: max 4 concurrent
// subscribers per mailbox — two peers plus slack for reconnects). Which
// subscriber is evicted follows map iteration order; it is not necessarily
// the oldest.
func (c *cell) attach(sub *subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subscribers) >= c.maxSubs {
		for _, oldest := range c.subscribers {
			oldest.evict(ReasonRateLimited)
			delete(c.subscribers, oldest.id.String())
			c.onEvict(ReasonRateLimited)
			break
		}
	}
	c.subscribers[sub.id.String()] = sub
}

func (c *cell) detach(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, id)
}

func (c *cell) isEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers) == 0
}

func (c *cell) subscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// publish fans msg out to every attached subscriber. A subscriber whose
// channel is full is evicted with slow_consumer rather than allowed to
// stall delivery to the others (spec §4.4).
func (c *cell) publish(msg model.MailboxMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, sub := range c.subscribers {
		if !sub.Send(msg) {
			sub.evict(ReasonSlowConsumer)
			delete(c.subscribers, id)
			c.onEvict(ReasonSlowConsumer)
		}
	}
}

// closeAll evicts every subscriber with reason, used on mailbox deletion.
func (c *cell) closeAll(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sub := range c.subscribers {
		sub.evict(reason)
		delete(c.subscribers, id)
		c.onEvict(reason)
	}
}

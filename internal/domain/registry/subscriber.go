package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/webitel/rendezvous-signaling/internal/domain/model"
)

// Close reasons, matching the WebSocket close codes in spec §6.
const (
	ReasonMailboxClosed = "mailbox_closed"
	ReasonSlowConsumer  = "slow_consumer"
	ReasonRateLimited   = "rate_limited"
)

// Subscriber is the external API a transport handler (WebSocket or
// long-poll) uses to receive fan-out from a single mailbox. Adapted from
// the teacher's per-connection Connector: same bounded channel plus
// one-shot Close idiom, but pushes mailbox messages directly rather than a
// generic prioritized Eventer, since the pairing protocol has no priority
// tiers to juggle — only FIFO delivery with drop-the-slow-reader
// backpressure (spec §4.4).
type Subscriber interface {
	ID() uuid.UUID
	MailboxID() string
	// Send attempts a non-blocking delivery. false means the subscriber's
	// channel was full; the hub is responsible for then evicting it.
	Send(msg model.MailboxMessage) bool
	Recv() <-chan model.MailboxMessage
	// Done is closed when this subscriber is terminated, either by the hub
	// (e.g. for slow_consumer or mailbox_closed) or by the caller's Close.
	Done() <-chan struct{}
	// Reason is valid once Done() has fired; it is empty after Close.
	Reason() string
	// Close is the caller-initiated teardown (client disconnected).
	Close()
}

type subscriber struct {
	id        uuid.UUID
	mailboxID string
	ch        chan model.MailboxMessage
	done      chan struct{}

	mu       sync.Mutex
	reason   string
	closed   bool
	lastSeq  int64
}

func newSubscriber(mailboxID string, bufferSize int) *subscriber {
	return &subscriber{
		id:        uuid.New(),
		mailboxID: mailboxID,
		ch:        make(chan model.MailboxMessage, bufferSize),
		done:      make(chan struct{}),
	}
}

func (s *subscriber) ID() uuid.UUID        { return s.id }
func (s *subscriber) MailboxID() string    { return s.mailboxID }
func (s *subscriber) Recv() <-chan model.MailboxMessage { return s.ch }
func (s *subscriber) Done() <-chan struct{} { return s.done }

func (s *subscriber) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Send is the hub's single delivery attempt: non-blocking, so a slow reader
// never stalls the writer that produced the message (spec §4.4/§5:
// "fan-out never blocks the appending writer").
func (s *subscriber) Send(msg model.MailboxMessage) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// evict is called by the hub when Send fails or the mailbox is deleted.
func (s *subscriber) evict(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.done)
}

func (s *subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

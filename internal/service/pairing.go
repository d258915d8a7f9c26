// Package service is the orchestration layer the HTTP and WebSocket
// handlers call into, following the teacher's thin DeliveryService
// wrapper (internal/service/delivery.go): it owns no state of its own,
// just composes the session/rendezvous/mailbox registries and the
// subscription hub into the operations spec §6 names. Rate limiting is
// applied by the transport handlers, not here.
package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/webitel/rendezvous-signaling/internal/apierr"
	"github.com/webitel/rendezvous-signaling/internal/domain/model"
	"github.com/webitel/rendezvous-signaling/internal/domain/registry"
	"github.com/webitel/rendezvous-signaling/internal/mailbox"
	"github.com/webitel/rendezvous-signaling/internal/rendezvous"
	"github.com/webitel/rendezvous-signaling/internal/session"
)

// Pairing is the primary interface the transport handlers depend on.
type Pairing interface {
	Register(ctx context.Context, deviceLabel string) (clientID, sessionToken, displayName string, heartbeatSecs int, err error)
	Heartbeat(ctx context.Context, clientID, sessionToken string) (nextHeartbeatSecs int, err error)
	InitConnection(ctx context.Context, clientID, sessionToken, rendezvousIDB64 string) (mailboxID string, err error)
	JoinConnection(ctx context.Context, tokenB64, clientID, sessionToken string) (mailboxID string, err error)
	Send(ctx context.Context, mailboxID, fromMailboxID string, ciphertextB64 []byte) error
	Recv(ctx context.Context, mailboxID string) ([]model.MailboxMessage, error)
	Subscribe(ctx context.Context, mailboxID string) (registry.Subscriber, error)
	Unsubscribe(mailboxID, subscriberID string)
}

type pairingService struct {
	sessions   *session.Registry
	rendezvous *rendezvous.Registry
	mailboxes  *mailbox.Store
	hub        registry.Hubber
}

func NewPairingService(sessions *session.Registry, rdv *rendezvous.Registry, mailboxes *mailbox.Store, hub registry.Hubber) Pairing {
	return &pairingService{sessions: sessions, rendezvous: rdv, mailboxes: mailboxes, hub: hub}
}

func (s *pairingService) Register(ctx context.Context, deviceLabel string) (string, string, string, int, error) {
	return s.sessions.Register(ctx, deviceLabel)
}

func (s *pairingService) Heartbeat(ctx context.Context, clientID, sessionToken string) (int, error) {
	return s.sessions.Heartbeat(ctx, clientID, sessionToken)
}

// InitConnection authenticates the initiator, creates its mailbox, and
// binds rendezvousIDB64 (the client-generated rendezvous id embedded in
// its shareable link, per spec §6) to that mailbox.
func (s *pairingService) InitConnection(ctx context.Context, clientID, sessionToken, rendezvousIDB64 string) (string, error) {
	if rendezvousIDB64 == "" {
		return "", apierr.New(apierr.KindValidation, "rendezvous_id_b64 is required")
	}
	if _, err := s.sessions.Authenticate(ctx, clientID, sessionToken); err != nil {
		return "", err
	}

	mb, err := s.mailboxes.Create(ctx, clientID)
	if err != nil {
		return "", err
	}

	if err := s.rendezvous.Create(ctx, rendezvousIDB64, mb.MailboxID, clientID); err != nil {
		_ = s.mailboxes.Delete(ctx, mb.MailboxID)
		return "", err
	}

	return mb.MailboxID, nil
}

// JoinConnection atomically consumes tokenB64 and adds the joiner to the
// initiator's mailbox. clientID/sessionToken are optional: when present
// (the common case, per S1's narrative of the joiner having already
// registered), the joiner authenticates and its client_id becomes the
// second participant; when absent, an anonymous participant id is
// synthesized so the two-participant cap still holds. See DESIGN.md for
// why the wire schema in spec §6 omits joiner identity from this call.
func (s *pairingService) JoinConnection(ctx context.Context, tokenB64, clientID, sessionToken string) (string, error) {
	tok, err := s.rendezvous.Claim(ctx, tokenB64)
	if err != nil {
		return "", err
	}

	participant := clientID
	if participant != "" {
		if _, err := s.sessions.Authenticate(ctx, clientID, sessionToken); err != nil {
			return "", err
		}
	} else {
		participant = anonymousParticipant()
	}

	if _, err := s.mailboxes.AddParticipant(ctx, tok.OwnerMailboxID, participant); err != nil {
		return "", err
	}

	return tok.OwnerMailboxID, nil
}

// Send appends ciphertextB64 to mailboxID. fromMailboxID is an opaque
// sender tag the client itself supplies (the server has no reliable way
// to attribute identity in the single-mailbox model both peers write
// into; see DESIGN.md).
func (s *pairingService) Send(ctx context.Context, mailboxID, fromMailboxID string, ciphertextB64 []byte) error {
	_, err := s.mailboxes.Append(ctx, mailboxID, fromMailboxID, ciphertextB64)
	return err
}

func (s *pairingService) Recv(ctx context.Context, mailboxID string) ([]model.MailboxMessage, error) {
	if _, err := s.mailboxes.Get(ctx, mailboxID); err != nil {
		return nil, err
	}
	return s.mailboxes.ListMessages(ctx, mailboxID)
}

func (s *pairingService) Subscribe(ctx context.Context, mailboxID string) (registry.Subscriber, error) {
	if _, err := s.mailboxes.Get(ctx, mailboxID); err != nil {
		return nil, err
	}
	backlog, err := s.mailboxes.ListMessages(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, mailboxID, backlog)
}

func (s *pairingService) Unsubscribe(mailboxID, subscriberID string) {
	s.hub.Unsubscribe(mailboxID, subscriberID)
}

func anonymousParticipant() string {
	return "anon:" + uuid.New().String()
}

// Package mailbox implements the Mailbox Store (spec §4.3): the bounded,
// TTL-bound message queue two peers exchange signaling payloads through,
// and the participant/lifetime bookkeeping around it.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/rendezvous-signaling/internal/apierr"
	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/domain/model"
	"github.com/webitel/rendezvous-signaling/internal/domain/registry"
	"github.com/webitel/rendezvous-signaling/internal/store"
)

// Store implements the mailbox lifecycle. ListMessages is the read side
// callers use to snapshot backlog immediately before handing it to
// registry.Hubber.Subscribe.
type Store struct {
	store store.Store
	cfg   *config.Config
	hub   registry.Hubber

	appendMu sync.Map // mailbox_id -> *sync.Mutex
}

func NewStore(st store.Store, cfg *config.Config, hub registry.Hubber) *Store {
	return &Store{store: st, cfg: cfg, hub: hub}
}

// lockAppend returns the per-mailbox mutex serializing seq-assignment and
// list-append together. The store's CompareAndSwap only covers a single
// key, and seq assignment (the mailbox header) and the message itself (a
// separate list key) are two keys: without this, two concurrent Append
// calls can each win their own CAS in one order but land in the list in
// the other, so recv/read_all would return messages out of seq order
// (spec §4.3, Testable Property 1). Serializing the whole
// assign-then-append-then-publish sequence per mailbox keeps list order,
// seq order, and hub fan-out order all in agreement.
func (s *Store) lockAppend(mailboxID string) func() {
	v, _ := s.appendMu.LoadOrStore(mailboxID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create allocates a new mailbox owned by ownerClientID, the single
// participant until a peer joins via AddParticipant.
func (s *Store) Create(ctx context.Context, ownerClientID string) (*model.Mailbox, error) {
	now := time.Now()
	mb := model.Mailbox{
		MailboxID:        uuid.New().String(),
		Participants:     []string{ownerClientID},
		NextSeq:          0,
		CreatedAtEpochMs: now.UnixMilli(),
		ExpiresAtEpochMs: now.Add(s.cfg.MailboxInitialTTL).UnixMilli(),
		MaxLifetimeUntil: now.Add(s.cfg.MailboxMaxLifetime).UnixMilli(),
	}

	if err := s.write(ctx, &mb, s.cfg.MailboxInitialTTL); err != nil {
		return nil, err
	}
	return &mb, nil
}

// AddParticipant joins clientID to mailboxID, enforcing the two-participant
// cap (spec §3, §4.3 edge case).
func (s *Store) AddParticipant(ctx context.Context, mailboxID, clientID string) (*model.Mailbox, error) {
	var result model.Mailbox

	err := s.store.CompareAndSwap(ctx, store.MailboxKey(mailboxID), func(current []byte, exists bool) ([]byte, time.Duration, error) {
		if !exists {
			return nil, 0, apierr.ErrMailboxGone
		}
		mb, err := decode(current)
		if err != nil {
			return nil, 0, err
		}
		if expired(mb, time.Now()) {
			return nil, 0, apierr.ErrMailboxGone
		}
		for _, p := range mb.Participants {
			if p == clientID {
				result = mb
				raw, err := json.Marshal(mb)
				return raw, ttlFor(mb), err
			}
		}
		if len(mb.Participants) >= s.cfg.MaxParticipants {
			return nil, 0, apierr.ErrParticipantLimitExceeded
		}
		mb.Participants = append(mb.Participants, clientID)
		result = mb
		raw, err := json.Marshal(mb)
		return raw, ttlFor(mb), err
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}
	return &result, nil
}

// Append assigns the next sequence number to a ciphertext payload, enforces
// the bounded queue length, extends the mailbox's idle TTL, and publishes
// the message to any live subscribers via the hub.
func (s *Store) Append(ctx context.Context, mailboxID, fromClientID string, ciphertextB64 []byte) (int64, error) {
	if int64(len(ciphertextB64)) > s.cfg.MaxMessageSizeBytes {
		return 0, apierr.ErrPayloadTooLarge
	}

	unlock := s.lockAppend(mailboxID)
	defer unlock()

	var assigned int64
	err := s.store.CompareAndSwap(ctx, store.MailboxKey(mailboxID), func(current []byte, exists bool) ([]byte, time.Duration, error) {
		if !exists {
			return nil, 0, apierr.ErrMailboxGone
		}
		mb, err := decode(current)
		if err != nil {
			return nil, 0, err
		}
		if expired(mb, time.Now()) {
			return nil, 0, apierr.ErrMailboxGone
		}
		assigned = mb.NextSeq
		mb.NextSeq++
		mb.ExpiresAtEpochMs = minEpoch(time.Now().Add(s.cfg.MailboxIdleExt).UnixMilli(), mb.MaxLifetimeUntil)
		raw, err := json.Marshal(mb)
		return raw, ttlFor(mb), err
	})
	if err != nil {
		return 0, translateMutateErr(err)
	}

	msg := model.MailboxMessage{
		Seq:              assigned,
		FromMailboxID:    fromClientID,
		CiphertextB64:    string(ciphertextB64),
		CreatedAtEpochMs: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "failed to encode message", err)
	}

	if _, err := s.store.ListAppend(ctx, store.MailboxMsgsKey(mailboxID), raw, s.cfg.MailboxMaxQueueLen, s.cfg.MailboxIdleExt); err != nil {
		if errors.Is(err, store.ErrListFull) {
			return 0, apierr.ErrMailboxFull
		}
		return 0, apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}

	s.hub.Publish(mailboxID, msg)
	return assigned, nil
}

// ListMessages returns the full current backlog ordered by seq ascending
// (spec §4.3: "read_all -> Ordered by seq ascending"), extending the idle
// TTL on both the mailbox header and the message list as a read is itself
// activity. Callers pass the result straight into registry.Hubber.Subscribe
// as the backlog to replay. Sorted explicitly rather than trusted to equal
// list-append order: Append's per-mailbox lock keeps the two in agreement
// in the common case, but a sort here is a cheap, unconditional guarantee
// of the invariant the spec actually names, not just of how this store
// happens to be implemented.
func (s *Store) ListMessages(ctx context.Context, mailboxID string) ([]model.MailboxMessage, error) {
	raw, err := s.store.ListRange(ctx, store.MailboxMsgsKey(mailboxID))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}

	msgs := make([]model.MailboxMessage, 0, len(raw))
	for _, item := range raw {
		var msg model.MailboxMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })

	_ = s.store.Touch(ctx, store.MailboxKey(mailboxID), s.cfg.MailboxIdleExt)
	_ = s.store.Touch(ctx, store.MailboxMsgsKey(mailboxID), s.cfg.MailboxIdleExt)
	return msgs, nil
}

// Delete removes mailboxID and its message queue, evicting every live
// subscriber with mailbox_closed. Idempotent.
func (s *Store) Delete(ctx context.Context, mailboxID string) error {
	if err := s.store.Delete(ctx, store.MailboxKey(mailboxID)); err != nil {
		return apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}
	if err := s.store.Delete(ctx, store.MailboxMsgsKey(mailboxID)); err != nil {
		return apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}
	s.hub.Close(mailboxID, registry.ReasonMailboxClosed)
	s.appendMu.Delete(mailboxID)
	return nil
}

// Get returns the current mailbox header without mutating anything.
func (s *Store) Get(ctx context.Context, mailboxID string) (*model.Mailbox, error) {
	raw, err := s.store.Get(ctx, store.MailboxKey(mailboxID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.ErrMailboxGone
		}
		return nil, apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}
	mb, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if expired(mb, time.Now()) {
		return nil, apierr.ErrMailboxGone
	}
	return &mb, nil
}

func (s *Store) write(ctx context.Context, mb *model.Mailbox, ttl time.Duration) error {
	raw, err := json.Marshal(mb)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to encode mailbox", err)
	}
	if err := s.store.Set(ctx, store.MailboxKey(mb.MailboxID), raw, ttl); err != nil {
		return apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}
	return nil
}

func decode(raw []byte) (model.Mailbox, error) {
	var mb model.Mailbox
	if err := json.Unmarshal(raw, &mb); err != nil {
		return model.Mailbox{}, apierr.Wrap(apierr.KindInternal, "corrupt mailbox record", err)
	}
	return mb, nil
}

func expired(mb model.Mailbox, now time.Time) bool {
	return now.UnixMilli() > mb.ExpiresAtEpochMs || now.UnixMilli() > mb.MaxLifetimeUntil
}

func ttlFor(mb model.Mailbox) time.Duration {
	d := time.Until(time.UnixMilli(mb.ExpiresAtEpochMs))
	if d < 0 {
		return 0
	}
	return d
}

func minEpoch(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func translateMutateErr(err error) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, store.ErrCASConflict) {
		return apierr.Wrap(apierr.KindUnavailable, "mailbox update did not converge", err)
	}
	return apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
}

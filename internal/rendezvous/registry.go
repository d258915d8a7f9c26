// Package rendezvous implements the Rendezvous Registry (spec §4.2): a
// short-lived, single-use token that lets an initiating client hand a peer
// the coordinates of a mailbox out of band (QR code, link, spoken code).
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/webitel/rendezvous-signaling/internal/apierr"
	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/domain/model"
	"github.com/webitel/rendezvous-signaling/internal/store"
)

// claimMetrics is the subset of metrics.Collector this package reports to,
// kept local so it never imports the metrics package directly.
type claimMetrics interface {
	RendezvousClaim(outcome string)
}

type noopClaimMetrics struct{}

func (noopClaimMetrics) RendezvousClaim(string) {}

type Registry struct {
	store   store.Store
	cfg     *config.Config
	metrics claimMetrics
}

func NewRegistry(st store.Store, cfg *config.Config) *Registry {
	return &Registry{store: st, cfg: cfg, metrics: noopClaimMetrics{}}
}

// WithMetrics attaches the Prometheus-backed reporter.
func (r *Registry) WithMetrics(m claimMetrics) *Registry {
	r.metrics = m
	return r
}

// Create binds rendezvousID (the rendezvous_id_b64 the client embeds in its
// shareable link, per spec §6's /connection/init contract) to mailboxID and
// ownerClientID, valid for the configured rendezvous TTL. SetNX makes reuse
// of an already-bound rendezvous_id a conflict rather than a silent
// overwrite.
func (r *Registry) Create(ctx context.Context, rendezvousID, mailboxID, ownerClientID string) error {
	now := time.Now()

	tok := model.RendezvousToken{
		RendezvousID:     rendezvousID,
		OwnerMailboxID:   mailboxID,
		OwnerClientID:    ownerClientID,
		ExpiresAtEpochMs: now.Add(r.cfg.RendezvousTTL).UnixMilli(),
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to encode rendezvous token", err)
	}

	ok, err := r.store.SetNX(ctx, store.RendezvousKey(rendezvousID), raw, r.cfg.RendezvousTTL)
	if err != nil {
		return apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}
	if !ok {
		return apierr.New(apierr.KindConflict, "rendezvous id already bound")
	}

	return nil
}

// Claim atomically consumes rendezvousID and returns the mailbox it points
// to. A token can be claimed exactly once (spec Testable Property 2); the
// underlying store.GetDelete compare-and-delete is what enforces that.
func (r *Registry) Claim(ctx context.Context, rendezvousID string) (*model.RendezvousToken, error) {
	raw, err := r.store.GetDelete(ctx, store.RendezvousKey(rendezvousID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.metrics.RendezvousClaim("unknown")
			return nil, apierr.ErrTokenUnknown
		}
		r.metrics.RendezvousClaim("unavailable")
		return nil, apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
	}

	var tok model.RendezvousToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		r.metrics.RendezvousClaim("corrupt")
		return nil, apierr.Wrap(apierr.KindInternal, "corrupt rendezvous record", err)
	}

	if time.Now().UnixMilli() > tok.ExpiresAtEpochMs {
		r.metrics.RendezvousClaim("expired")
		return nil, apierr.ErrTokenUnknown
	}

	r.metrics.RendezvousClaim("ok")
	return &tok, nil
}

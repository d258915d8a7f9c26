package mailbox

import (
	"context"

	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/domain/registry"
	"github.com/webitel/rendezvous-signaling/internal/store"
	"go.uber.org/fx"
)

// Module provides the mailbox Store, which publishes through the
// Subscription Hub's Hubber interface on Append/Delete, and wires the
// hub's idle-cell janitor to this store's liveness so a mailbox that
// TTL-reaps out of the backing store still closes its pending
// subscribers. This has to happen here rather than in registry.Module:
// registry.Hub takes the checker as a callback precisely so it never
// needs to import this package back.
var Module = fx.Module("mailbox",
	fx.Provide(
		func(st store.Store, cfg *config.Config, hub registry.Hubber) *Store {
			return NewStore(st, cfg, hub)
		},
	),
	fx.Invoke(func(h *registry.Hub, s *Store) {
		h.SetLivenessChecker(func(mailboxID string) bool {
			_, err := s.Get(context.Background(), mailboxID)
			return err == nil
		})
	}),
)

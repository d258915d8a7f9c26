package model

// RendezvousToken is a public, single-use claim mapping a rendezvous_id to
// the initiator's mailbox (spec §3). It is deleted, not flagged, on
// successful claim — the store's GetDelete primitive enforces "at most one
// successful consumption" (spec §4.2).
type RendezvousToken struct {
	RendezvousID    string `json:"rendezvous_id"`
	OwnerMailboxID  string `json:"owner_mailbox_id"`
	OwnerClientID   string `json:"owner_client_id"`
	ExpiresAtEpochMs int64 `json:"expires_at_epoch_ms"`
}

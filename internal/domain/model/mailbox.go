package model

// Mailbox is the handoff buffer between two peers during pairing (spec §3).
// The message list itself is stored separately (store.MailboxMsgsKey) as an
// append-only list; this header tracks everything needed to enforce the
// invariants around it.
type Mailbox struct {
	MailboxID        string   `json:"mailbox_id"`
	Participants     []string `json:"participants"` // client_ids, initiator first, at most 2
	NextSeq          int64    `json:"next_seq"`
	CreatedAtEpochMs int64    `json:"created_at_epoch_ms"`
	ExpiresAtEpochMs int64    `json:"expires_at_epoch_ms"`
	MaxLifetimeUntil int64    `json:"max_lifetime_until_epoch_ms"`
}

// MailboxMessage is one entry in a mailbox's append-only queue.
type MailboxMessage struct {
	Seq             int64  `json:"seq"`
	FromMailboxID   string `json:"from_mailbox_id"`
	CiphertextB64   string `json:"ciphertext_b64"`
	CreatedAtEpochMs int64 `json:"created_at_epoch_ms"`
}

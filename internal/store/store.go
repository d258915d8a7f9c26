// Package store provides the serialized, TTL-aware key-value abstraction
// that sessions, rendezvous tokens, and mailboxes are built on (spec §2,
// §6). It is backed by Redis in production and by an in-memory
// implementation for tests and single-node development, per the spec's
// "or by an in-memory equivalent" allowance.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/GetDelete when the key does not exist
// (including because it expired).
var ErrNotFound = errors.New("store: key not found")

// ErrCASConflict is returned by CompareAndSwap when Update is called more
// times than the implementation's retry budget allows without converging;
// callers should treat this the same as a transient store error.
var ErrCASConflict = errors.New("store: compare-and-swap did not converge")

// ErrListFull is returned by ListAppend when the list at key already holds
// maxLen elements.
var ErrListFull = errors.New("store: list at capacity")

// UpdateFunc mutates the current value of a key. current is nil and exists
// is false if the key is absent. A nil next does not delete the key: both
// backends here write it as an empty value. ttl is the
// TTL to apply to the new value; zero means "leave TTL unchanged" only if
// the implementation supports it (the Redis and memory backends here always
// require an explicit ttl on write).
type UpdateFunc func(current []byte, exists bool) (next []byte, ttl time.Duration, err error)

// Store is the KV abstraction every component builds on. Every mutation a
// component makes goes through it; no component caches authoritative state
// across request boundaries (spec §5).
type Store interface {
	// SetNX writes value under key only if key does not already exist.
	// Returns false (no error) if the key was already present.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set writes value under key unconditionally, with ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// GetDelete atomically reads and removes key in one step, returning
	// ErrNotFound if it was already absent. Used for single-use claims
	// (spec §4.2's "at most one joiner succeeds" invariant).
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// CompareAndSwap reads the current value (if any), applies update, and
	// writes the result back only if nothing else has changed the key in
	// between. Implementations retry update internally on contention.
	CompareAndSwap(ctx context.Context, key string, update UpdateFunc) error

	// ListAppend appends value to the list at key if its length is below
	// maxLen, refreshing the key's TTL. Returns the list length after the
	// append, or ErrListFull when the list already holds maxLen elements.
	ListAppend(ctx context.Context, key string, value []byte, maxLen int, ttl time.Duration) (length int, err error)

	// ListRange returns every element currently in the list at key, in
	// append order.
	ListRange(ctx context.Context, key string) ([][]byte, error)

	// Touch refreshes the TTL on key without altering its value, used to
	// extend mailbox/session expiry on activity without a full read-modify
	// -write. Fine when the caller doesn't need the previous value.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	Close() error
}

// Key prefixes, matching spec §6's persisted-state layout.
const (
	PrefixSession    = "sess:"
	PrefixRendezvous = "rdv:"
	PrefixMailbox    = "mbox:"
	SuffixMessages   = ":msgs"
)

func SessionKey(clientID string) string    { return PrefixSession + clientID }
func RendezvousKey(rendezvousID string) string { return PrefixRendezvous + rendezvousID }
func MailboxKey(mailboxID string) string   { return PrefixMailbox + mailboxID }
func MailboxMsgsKey(mailboxID string) string {
	return PrefixMailbox + mailboxID + SuffixMessages
}

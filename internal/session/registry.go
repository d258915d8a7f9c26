// Package session implements the Session Registry (spec §4.1): client
// registration, heartbeat, and authentication against the backing store.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/rendezvous-signaling/internal/apierr"
	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/domain/model"
	"github.com/webitel/rendezvous-signaling/internal/namegen"
	"github.com/webitel/rendezvous-signaling/internal/store"
)

const deviceLabelMaxLen = 256

// Registry implements the session state machine: Unregistered -> Active ->
// Expired (spec §4.6). Session records live in the store with a TTL; a
// small LRU read-through cache (grounded on the teacher's PeerEnricher
// cache, internal/service/peer_enricher.go) saves a store round trip on
// the common case of repeated authenticate calls from the same client
// within its idle window.
type Registry struct {
	store store.Store
	cfg   *config.Config
	cache *lru.Cache[string, model.Session]
}

func NewRegistry(st store.Store, cfg *config.Config) *Registry {
	cache, _ := lru.New[string, model.Session](10_000)
	return &Registry{store: st, cfg: cfg, cache: cache}
}

// Register issues a fresh client_id + session_token and writes the session
// record with the configured idle TTL.
func (r *Registry) Register(ctx context.Context, deviceLabel string) (clientID, sessionToken, displayName string, heartbeatSecs int, err error) {
	if len(deviceLabel) > deviceLabelMaxLen {
		return "", "", "", 0, apierr.New(apierr.KindValidation, "device_label too long")
	}

	id := uuid.New()
	tokenBytes := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, tokenBytes); err != nil {
		return "", "", "", 0, apierr.Wrap(apierr.KindInternal, "failed to generate session token", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)

	now := time.Now().UnixMilli()
	heartbeat := clampHeartbeat(r.cfg.HeartbeatMin, r.cfg.HeartbeatMax)

	sess := model.Session{
		ClientID:              id.String(),
		SessionTokenHash:      hashToken(token),
		DisplayName:           namegen.For(id),
		DeviceLabel:           deviceLabel,
		HeartbeatIntervalSecs: int(heartbeat.Seconds()),
		LastSeenEpochMs:       now,
		CreatedAtEpochMs:      now,
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return "", "", "", 0, apierr.Wrap(apierr.KindInternal, "failed to encode session", err)
	}
	if err := r.store.Set(ctx, store.SessionKey(sess.ClientID), raw, r.cfg.SessionIdleTTL); err != nil {
		return "", "", "", 0, translateStoreErr(err)
	}

	return sess.ClientID, token, sess.DisplayName, sess.HeartbeatIntervalSecs, nil
}

// Authenticate validates clientID/sessionToken and refreshes last_seen.
// SessionUnknown and SessionExpired are intentionally indistinguishable to
// callers (spec §4.1) to avoid enumeration.
func (r *Registry) Authenticate(ctx context.Context, clientID, sessionToken string) (*model.Session, error) {
	sess, err := r.load(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(hashToken(sessionToken)), []byte(sess.SessionTokenHash)) != 1 {
		return nil, apierr.ErrSessionUnknown
	}

	sess.LastSeenEpochMs = time.Now().UnixMilli()
	if err := r.save(ctx, sess); err != nil {
		return nil, err
	}

	return &sess, nil
}

// Heartbeat refreshes last_seen and returns the current advisory interval.
func (r *Registry) Heartbeat(ctx context.Context, clientID, sessionToken string) (int, error) {
	sess, err := r.Authenticate(ctx, clientID, sessionToken)
	if err != nil {
		return 0, err
	}
	return sess.HeartbeatIntervalSecs, nil
}

// CacheSize returns the number of sessions currently held in the read-through
// cache, used as a proxy for "active sessions" by the periodic gauge updater
// in module.go — the store.Store interface has no count/scan primitive to
// ask the backing store directly.
func (r *Registry) CacheSize() int {
	return r.cache.Len()
}

func (r *Registry) load(ctx context.Context, clientID string) (model.Session, error) {
	if cached, ok := r.cache.Get(clientID); ok {
		if isExpired(cached, r.cfg.SessionIdleTTL) {
			r.cache.Remove(clientID)
		} else {
			return cached, nil
		}
	}

	raw, err := r.store.Get(ctx, store.SessionKey(clientID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Session{}, apierr.ErrSessionUnknown
		}
		return model.Session{}, translateStoreErr(err)
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return model.Session{}, apierr.Wrap(apierr.KindInternal, "corrupt session record", err)
	}
	return sess, nil
}

func (r *Registry) save(ctx context.Context, sess model.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to encode session", err)
	}
	if err := r.store.Set(ctx, store.SessionKey(sess.ClientID), raw, r.cfg.SessionIdleTTL); err != nil {
		return translateStoreErr(err)
	}
	r.cache.Add(sess.ClientID, sess)
	return nil
}

func isExpired(sess model.Session, ttl time.Duration) bool {
	return time.Since(time.UnixMilli(sess.LastSeenEpochMs)) > ttl
}

func clampHeartbeat(min, max time.Duration) time.Duration {
	d := (min + max) / 2
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func translateStoreErr(err error) error {
	return apierr.Wrap(apierr.KindUnavailable, apierr.ErrServiceUnavailable.Message, err)
}

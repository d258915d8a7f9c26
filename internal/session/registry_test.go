package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/rendezvous-signaling/internal/apierr"
	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		SessionIdleTTL: time.Minute,
		HeartbeatMin:   10 * time.Second,
		HeartbeatMax:   300 * time.Second,
	}
}

func TestRegisterIssuesUsableCredentials(t *testing.T) {
	r := NewRegistry(store.NewMemory(), testConfig())
	ctx := context.Background()

	clientID, token, displayName, heartbeat, err := r.Register(ctx, "my-phone")
	require.NoError(t, err)
	assert.NotEmpty(t, clientID)
	assert.NotEmpty(t, token)
	assert.NotEmpty(t, displayName)
	assert.Greater(t, heartbeat, 0)

	sess, err := r.Authenticate(ctx, clientID, token)
	require.NoError(t, err)
	assert.Equal(t, clientID, sess.ClientID)
}

func TestRegisterRejectsOverlongDeviceLabel(t *testing.T) {
	r := NewRegistry(store.NewMemory(), testConfig())

	_, _, _, _, err := r.Register(context.Background(), string(make([]byte, deviceLabelMaxLen+1)))
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindValidation, apiErr.Kind)
}

func TestAuthenticateRejectsWrongToken(t *testing.T) {
	r := NewRegistry(store.NewMemory(), testConfig())
	ctx := context.Background()

	clientID, _, _, _, err := r.Register(ctx, "")
	require.NoError(t, err)

	_, err = r.Authenticate(ctx, clientID, "not-the-token")
	assert.ErrorIs(t, err, apierr.ErrSessionUnknown)
}

// TestAuthenticateUnknownAndExpiredAreIndistinguishable checks the unknown
// half: an unknown client gets ErrSessionUnknown. The expired half (the
// same ErrSessionUnknown once the idle TTL passes) is checked by
// TestAuthenticateCachesThenInvalidatesOnExpiry.
func TestAuthenticateUnknownAndExpiredAreIndistinguishable(t *testing.T) {
	r := NewRegistry(store.NewMemory(), testConfig())

	_, err := r.Authenticate(context.Background(), "no-such-client", "anything")
	assert.ErrorIs(t, err, apierr.ErrSessionUnknown)
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	r := NewRegistry(store.NewMemory(), testConfig())
	ctx := context.Background()

	clientID, token, _, _, err := r.Register(ctx, "")
	require.NoError(t, err)

	sessBefore, err := r.Authenticate(ctx, clientID, token)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	secs, err := r.Heartbeat(ctx, clientID, token)
	require.NoError(t, err)
	assert.Equal(t, sessBefore.HeartbeatIntervalSecs, secs)

	sessAfter, err := r.Authenticate(ctx, clientID, token)
	require.NoError(t, err)
	assert.Greater(t, sessAfter.LastSeenEpochMs, sessBefore.LastSeenEpochMs)
}

func TestAuthenticateCachesThenInvalidatesOnExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.SessionIdleTTL = 10 * time.Millisecond
	r := NewRegistry(store.NewMemory(), cfg)
	ctx := context.Background()

	clientID, token, _, _, err := r.Register(ctx, "")
	require.NoError(t, err)

	_, err = r.Authenticate(ctx, clientID, token)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = r.Authenticate(ctx, clientID, token)
	assert.ErrorIs(t, err, apierr.ErrSessionUnknown)
}

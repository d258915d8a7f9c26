package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/rendezvous-signaling/internal/apierr"
	"github.com/webitel/rendezvous-signaling/internal/config"
	"github.com/webitel/rendezvous-signaling/internal/domain/registry"
	"github.com/webitel/rendezvous-signaling/internal/mailbox"
	"github.com/webitel/rendezvous-signaling/internal/rendezvous"
	"github.com/webitel/rendezvous-signaling/internal/session"
	"github.com/webitel/rendezvous-signaling/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		SessionIdleTTL:      time.Minute,
		HeartbeatMin:        10 * time.Second,
		HeartbeatMax:        300 * time.Second,
		RendezvousTTL:       time.Minute,
		MailboxInitialTTL:   time.Minute,
		MailboxIdleExt:      time.Minute,
		MailboxMaxLifetime:  time.Hour,
		MailboxMaxQueueLen:  128,
		MaxParticipants:     2,
		MaxMessageSizeBytes: 4096,
	}
}

func newPairingForTest(cfg *config.Config) Pairing {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	hub := registry.NewHub(logger)
	return NewPairingService(
		session.NewRegistry(st, cfg),
		rendezvous.NewRegistry(st, cfg),
		mailbox.NewStore(st, cfg, hub),
		hub,
	)
}

// TestHappyPathPairing exercises scenario S1 end to end.
func TestHappyPathPairing(t *testing.T) {
	p := newPairingForTest(testConfig())
	ctx := context.Background()

	clientA, tokenA, _, _, err := p.Register(ctx, "phone-a")
	require.NoError(t, err)

	mailboxM1, err := p.InitConnection(ctx, clientA, tokenA, "R1")
	require.NoError(t, err)

	clientB, tokenB, _, _, err := p.Register(ctx, "phone-b")
	require.NoError(t, err)

	joinedMailbox, err := p.JoinConnection(ctx, "R1", clientB, tokenB)
	require.NoError(t, err)
	assert.Equal(t, mailboxM1, joinedMailbox)

	require.NoError(t, p.Send(ctx, mailboxM1, "B-ref", []byte("E1")))

	msgs, err := p.Recv(ctx, mailboxM1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 0, msgs[0].Seq)
	assert.Equal(t, "B-ref", msgs[0].FromMailboxID)
	assert.Equal(t, "E1", msgs[0].CiphertextB64)

	require.NoError(t, p.Send(ctx, mailboxM1, "A-ref", []byte("E2")))

	msgs, err = p.Recv(ctx, mailboxM1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.EqualValues(t, 1, msgs[1].Seq)
	assert.Equal(t, "E2", msgs[1].CiphertextB64)
}

// TestDoubleClaimRace exercises scenario S2: of two simultaneous joins on
// the same rendezvous token, exactly one succeeds.
func TestDoubleClaimRace(t *testing.T) {
	p := newPairingForTest(testConfig())
	ctx := context.Background()

	clientA, tokenA, _, _, err := p.Register(ctx, "")
	require.NoError(t, err)
	mailboxM2, err := p.InitConnection(ctx, clientA, tokenA, "R2")
	require.NoError(t, err)

	type result struct {
		mailboxID string
		err       error
	}
	results := make(chan result, 2)
	join := func() {
		mb, err := p.JoinConnection(ctx, "R2", "", "")
		results <- result{mb, err}
	}
	go join()
	go join()

	first := <-results
	second := <-results

	successes := 0
	for _, r := range []result{first, second} {
		if r.err == nil {
			assert.Equal(t, mailboxM2, r.mailboxID)
			successes++
		} else {
			assert.ErrorIs(t, r.err, apierr.ErrTokenUnknown)
		}
	}
	assert.Equal(t, 1, successes)
}

// TestThirdParticipantRejected exercises scenario S3: a mailbox that
// already has two participants rejects a third join, and its participant
// set is left unchanged.
func TestThirdParticipantRejected(t *testing.T) {
	p := newPairingForTest(testConfig())
	impl := p.(*pairingService)
	ctx := context.Background()

	clientA, tokenA, _, _, err := p.Register(ctx, "")
	require.NoError(t, err)
	mailboxM1, err := p.InitConnection(ctx, clientA, tokenA, "R1")
	require.NoError(t, err)

	_, err = p.JoinConnection(ctx, "R1", "", "")
	require.NoError(t, err)

	mbBefore, err := impl.mailboxes.Get(ctx, mailboxM1)
	require.NoError(t, err)
	require.Len(t, mbBefore.Participants, 2)

	// A second rendezvous token bound to the same mailbox simulates a
	// forged third-peer invite, per S3's "simulate by forging participant
	// add".
	require.NoError(t, impl.rendezvous.Create(ctx, "R1-fresh", mailboxM1, clientA))

	_, err = p.JoinConnection(ctx, "R1-fresh", "", "")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)

	mbAfter, err := impl.mailboxes.Get(ctx, mailboxM1)
	require.NoError(t, err)
	assert.Equal(t, mbBefore.Participants, mbAfter.Participants)
}

// TestRecvFailsOnceMailboxTTLExpires exercises scenario S4: a mailbox past
// its TTL is gone to both recv and any subscriber attempt.
func TestRecvFailsOnceMailboxTTLExpires(t *testing.T) {
	cfg := testConfig()
	cfg.MailboxInitialTTL = 20 * time.Millisecond
	cfg.MailboxIdleExt = 20 * time.Millisecond
	p := newPairingForTest(cfg)
	ctx := context.Background()

	clientA, tokenA, _, _, err := p.Register(ctx, "")
	require.NoError(t, err)
	mailboxM3, err := p.InitConnection(ctx, clientA, tokenA, "R3")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = p.Recv(ctx, mailboxM3)
	assert.ErrorIs(t, err, apierr.ErrMailboxGone)

	_, err = p.Subscribe(ctx, mailboxM3)
	assert.ErrorIs(t, err, apierr.ErrMailboxGone)
}

func TestSubscribeReplaysBacklogBeforeLiveFanout(t *testing.T) {
	p := newPairingForTest(testConfig())
	ctx := context.Background()

	clientA, tokenA, _, _, err := p.Register(ctx, "")
	require.NoError(t, err)
	mailboxM4, err := p.InitConnection(ctx, clientA, tokenA, "R4")
	require.NoError(t, err)

	require.NoError(t, p.Send(ctx, mailboxM4, "a", []byte("backlog-0")))

	sub, err := p.Subscribe(ctx, mailboxM4)
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-sub.Recv():
		assert.Equal(t, "backlog-0", msg.CiphertextB64)
	case <-time.After(time.Second):
		t.Fatal("did not receive replayed backlog")
	}

	require.NoError(t, p.Send(ctx, mailboxM4, "a", []byte("live-1")))

	select {
	case msg := <-sub.Recv():
		assert.Equal(t, "live-1", msg.CiphertextB64)
	case <-time.After(time.Second):
		t.Fatal("did not receive live fan-out")
	}
}

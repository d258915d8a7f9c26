package registry

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/rendezvous-signaling/internal/domain/model"
)

// TestReapStaleCellsClosesSubscriberOnceMailboxGoesStale exercises the
// second clause of scenario S4: a subscriber attached to a mailbox that
// TTL-reaps out of the backing store must still receive close code 4000,
// even though nothing ever calls Hub.Close for it directly.
func TestReapStaleCellsClosesSubscriberOnceMailboxGoesStale(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHub(logger, WithEvictionInterval(20*time.Millisecond))
	defer h.Shutdown()

	var live atomic.Bool
	live.Store(true)
	h.SetLivenessChecker(func(string) bool { return live.Load() })

	ctx := context.Background()
	sub, err := h.Subscribe(ctx, "mbox-1", nil)
	require.NoError(t, err)

	select {
	case <-sub.Done():
		t.Fatal("subscriber closed before mailbox went stale")
	case <-time.After(50 * time.Millisecond):
	}

	live.Store(false)

	select {
	case <-sub.Done():
		assert.Equal(t, ReasonMailboxClosed, sub.Reason())
	case <-time.After(time.Second):
		t.Fatal("subscriber was never closed after mailbox TTL-reaped")
	}
}

// TestReapStaleCellsLeavesLiveMailboxesAlone is the inverse: a cell whose
// mailbox is still live in the store, and still has a subscriber, must
// survive repeated janitor ticks untouched.
func TestReapStaleCellsLeavesLiveMailboxesAlone(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHub(logger, WithEvictionInterval(10*time.Millisecond))
	defer h.Shutdown()

	h.SetLivenessChecker(func(string) bool { return true })

	ctx := context.Background()
	sub, err := h.Subscribe(ctx, "mbox-2", nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	select {
	case <-sub.Done():
		t.Fatal("subscriber closed even though its mailbox stayed live")
	default:
	}

	h.Publish("mbox-2", model.MailboxMessage{Seq: 0, CiphertextB64: "still-attached"})
	select {
	case msg := <-sub.Recv():
		assert.Equal(t, "still-attached", msg.CiphertextB64)
	case <-time.After(time.Second):
		t.Fatal("subscriber no longer receiving fan-out")
	}
}

// TestReapStaleCellsWithNoLivenessCheckerReapsOnlyEmptyCells preserves the
// original reapEmptyCells behavior when no checker has been wired (e.g. a
// Hub constructed standalone in a test, outside the mailbox.Module wiring).
func TestReapStaleCellsWithNoLivenessCheckerReapsOnlyEmptyCells(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHub(logger, WithEvictionInterval(10*time.Millisecond))
	defer h.Shutdown()

	ctx := context.Background()
	sub, err := h.Subscribe(ctx, "mbox-3", nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	select {
	case <-sub.Done():
		t.Fatal("subscriber closed with no liveness checker wired")
	default:
	}
}

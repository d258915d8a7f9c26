// Package ws implements the GET /ws/{mailbox_id} upgrade and pump loop
// (spec §6), adapted from the teacher's WSHandler: same upgrade-then-pump
// shape, but frames are the mailbox message itself with no event envelope,
// since spec §6 defines the frame as "the same shape as one element of the
// recv array", and the teacher's wsmarshaller.WSEvent wrapper has no
// equivalent in this protocol.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/webitel/rendezvous-signaling/internal/ratelimit"
	"github.com/webitel/rendezvous-signaling/internal/service"
)

const (
	pingInterval = 20 * time.Second
	pongWait     = 2 * pingInterval
)

// Close codes spec §6 assigns on top of the standard 1000 normal closure.
const (
	closeMailboxClosed = 4000
	closeSlowConsumer  = 4001
	closeRateLimited   = 4008
)

type Handler struct {
	logger   *slog.Logger
	pairing  service.Pairing
	limits   *ratelimit.Limiters
	upgrader websocket.Upgrader
}

func NewHandler(logger *slog.Logger, pairing service.Pairing, limits *ratelimit.Limiters) *Handler {
	return &Handler{
		logger:  logger,
		pairing: pairing,
		limits:  limits,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mailboxID := chi.URLParam(r, "mailbox_id")
	if mailboxID == "" {
		http.Error(w, "mailbox_id is required", http.StatusBadRequest)
		return
	}
	if !h.limits.Client.Allow(mailboxID) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	sub, err := h.pairing.Subscribe(r.Context(), mailboxID)
	if err != nil {
		http.Error(w, "mailbox unavailable", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err, "mailbox_id", mailboxID)
		h.pairing.Unsubscribe(mailboxID, sub.ID().String())
		return
	}
	defer conn.Close()
	defer h.pairing.Unsubscribe(mailboxID, sub.ID().String())

	h.logger.Info("ws opened", "mailbox_id", mailboxID, "subscriber_id", sub.ID())

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(conn, sub.Done())
	go h.discardReads(conn, sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			h.closeWithReason(conn, sub.Reason())
			return
		case msg, ok := <-sub.Recv():
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("failed to marshal ws frame", "error", err, "mailbox_id", mailboxID)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("ws send failed", "error", err, "mailbox_id", mailboxID)
				return
			}
		}
	}
}

// discardReads drains client frames (pongs, close) so the pong handler
// keeps firing and ReadMessage unblocks promptly on client disconnect; the
// protocol has no client->server WS payload traffic.
func (h *Handler) discardReads(conn *websocket.Conn, sub interface{ Close() }) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			sub.Close()
			return
		}
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) closeWithReason(conn *websocket.Conn, reason string) {
	code := websocket.CloseNormalClosure
	switch reason {
	case "mailbox_closed":
		code = closeMailboxClosed
	case "slow_consumer":
		code = closeSlowConsumer
	case "rate_limited":
		code = closeRateLimited
	}
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

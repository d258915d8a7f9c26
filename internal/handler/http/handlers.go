package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/webitel/rendezvous-signaling/internal/apierr"
)

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.HTTPStatus(err)
	var body errorBody
	body.Error.Code = apierr.Code(err)
	body.Error.Message = errorMessage(err)
	body.Error.RequestID = requestIDFrom(r.Context())

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", "request_id", body.Error.RequestID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorMessage never surfaces the underlying cause (store errors, decode
// errors) to the client, only the typed message (spec §7: redact above
// DEBUG, never leak internals in a 500 body).
func errorMessage(err error) string {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reports the failure as an *apierr.Error so callers can tell a
// genuinely oversized body (413) from any other malformed/schema-invalid
// body (400) — http.MaxBytesReader surfaces the former as *http.MaxBytesError.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierr.ErrPayloadTooLarge
		}
		return apierr.New(apierr.KindValidation, "malformed request body")
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	DeviceLabel string `json:"device_label"`
}

type registerResponse struct {
	ClientID              string `json:"client_id"`
	SessionToken          string `json:"session_token"`
	HeartbeatIntervalSecs int    `json:"heartbeat_interval_secs"`
	DisplayName           string `json:"display_name"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.limits.Register.Allow(clientIP(r)) {
		h.writeError(w, r, apierr.ErrRateLimited)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, 4096, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	clientID, token, displayName, heartbeat, err := h.pairing.Register(r.Context(), req.DeviceLabel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		ClientID:              clientID,
		SessionToken:          token,
		HeartbeatIntervalSecs: heartbeat,
		DisplayName:           displayName,
	})
}

type heartbeatRequest struct {
	ClientID     string `json:"client_id"`
	SessionToken string `json:"session_token"`
}

type heartbeatResponse struct {
	NextHeartbeatSecs int `json:"next_heartbeat_secs"`
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(w, r, 2048, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.limits.Client.Allow(req.ClientID) {
		h.writeError(w, r, apierr.ErrRateLimited)
		return
	}

	next, err := h.pairing.Heartbeat(r.Context(), req.ClientID, req.SessionToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, heartbeatResponse{NextHeartbeatSecs: next})
}

type connectionInitRequest struct {
	ClientID        string `json:"client_id"`
	SessionToken    string `json:"session_token"`
	RendezvousIDB64 string `json:"rendezvous_id_b64"`
}

type connectionInitResponse struct {
	MailboxID string `json:"mailbox_id"`
}

func (h *Handler) ConnectionInit(w http.ResponseWriter, r *http.Request) {
	var req connectionInitRequest
	if err := decodeJSON(w, r, 2048, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.limits.Client.Allow(req.ClientID) {
		h.writeError(w, r, apierr.ErrRateLimited)
		return
	}

	mailboxID, err := h.pairing.InitConnection(r.Context(), req.ClientID, req.SessionToken, req.RendezvousIDB64)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, connectionInitResponse{MailboxID: mailboxID})
}

type connectionJoinRequest struct {
	TokenB64     string `json:"token_b64"`
	ClientID     string `json:"client_id,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

type connectionJoinResponse struct {
	MailboxID string `json:"mailbox_id"`
}

func (h *Handler) ConnectionJoin(w http.ResponseWriter, r *http.Request) {
	var req connectionJoinRequest
	if err := decodeJSON(w, r, 2048, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.TokenB64 == "" {
		h.writeError(w, r, apierr.New(apierr.KindValidation, "token_b64 is required"))
		return
	}
	if !h.limits.Client.Allow(req.TokenB64) {
		h.writeError(w, r, apierr.ErrRateLimited)
		return
	}

	mailboxID, err := h.pairing.JoinConnection(r.Context(), req.TokenB64, req.ClientID, req.SessionToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, connectionJoinResponse{MailboxID: mailboxID})
}

type connectionSendRequest struct {
	MailboxID     string `json:"mailbox_id"`
	CiphertextB64 string `json:"ciphertext_b64"`
	FromMailboxID string `json:"from_mailbox_id,omitempty"`
}

func (h *Handler) ConnectionSend(w http.ResponseWriter, r *http.Request) {
	maxBody := h.cfg.MaxMessageSizeBytes + 4096
	var req connectionSendRequest
	if err := decodeJSON(w, r, maxBody, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.MailboxID == "" {
		h.writeError(w, r, apierr.New(apierr.KindValidation, "mailbox_id is required"))
		return
	}
	if !h.limits.Client.Allow(req.MailboxID) {
		h.writeError(w, r, apierr.ErrRateLimited)
		return
	}

	if err := h.pairing.Send(r.Context(), req.MailboxID, req.FromMailboxID, []byte(req.CiphertextB64)); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type connectionRecvRequest struct {
	MailboxID string `json:"mailbox_id"`
}

type connectionRecvResponse struct {
	Messages []messageDTO `json:"messages"`
}

type messageDTO struct {
	Seq              int64  `json:"seq"`
	FromMailboxID    string `json:"from_mailbox_id"`
	CiphertextB64    string `json:"ciphertext_b64"`
	CreatedAtEpochMs int64  `json:"created_at_epoch_ms"`
}

func (h *Handler) ConnectionRecv(w http.ResponseWriter, r *http.Request) {
	var req connectionRecvRequest
	if err := decodeJSON(w, r, 2048, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.MailboxID == "" {
		h.writeError(w, r, apierr.New(apierr.KindValidation, "mailbox_id is required"))
		return
	}
	if !h.limits.Client.Allow(req.MailboxID) {
		h.writeError(w, r, apierr.ErrRateLimited)
		return
	}

	msgs, err := h.pairing.Recv(r.Context(), req.MailboxID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]messageDTO, len(msgs))
	for i, m := range msgs {
		out[i] = messageDTO{
			Seq:              m.Seq,
			FromMailboxID:    m.FromMailboxID,
			CiphertextB64:    m.CiphertextB64,
			CreatedAtEpochMs: m.CreatedAtEpochMs,
		}
	}

	writeJSON(w, http.StatusOK, connectionRecvResponse{Messages: out})
}

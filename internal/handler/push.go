package handler

import (
	"net/http"
	"time"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/middleware"
	"github.com/chatsvc/internal/model"
	"github.com/chatsvc/internal/push"
)

// PushHandler manages push subscriptions for the authenticated user.
type PushHandler struct {
	sender *push.Sender
	resp   *Responder
}

func NewPushHandler(sender *push.Sender, resp *Responder) *PushHandler {
	return &PushHandler{sender: sender, resp: resp}
}

// subscribeRequest carries the subscription from PushManager.subscribe().
type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	var req subscribeRequest
	if err := decodeBody(r, &req); err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		h.resp.WriteError(w, r, apperr.BadRequest("endpoint and keys required", nil))
		return
	}
	sub := &model.PushSubscription{
		UserID:    principal.ID,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.sender.Subscribe(r.Context(), sub); err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.resp.WriteData(w, r, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	var req unsubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	if req.Endpoint == "" {
		h.resp.WriteError(w, r, apperr.BadRequest("endpoint required", nil))
		return
	}
	if err := h.sender.Unsubscribe(r.Context(), principal.ID, req.Endpoint); err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.resp.WriteData(w, r, http.StatusOK, map[string]string{"endpoint": req.Endpoint})
}

// Config exposes whether push is enabled and the public VAPID key clients
// subscribe with. No auth required.
func (h *PushHandler) Config(w http.ResponseWriter, r *http.Request) {
	key := h.sender.PublicKey()
	h.resp.WriteData(w, r, http.StatusOK, map[string]any{
		"enabled":        key != "",
		"vapidPublicKey": key,
	})
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsvc/internal/chat"
	"github.com/chatsvc/internal/middleware"
	"github.com/chatsvc/internal/ws"
)

type MessageHandler struct {
	svc  *chat.Service
	hub  *ws.Hub
	resp *Responder
}

func NewMessageHandler(svc *chat.Service, hub *ws.Hub, resp *Responder) *MessageHandler {
	return &MessageHandler{svc: svc, hub: hub, resp: resp}
}

// GetMessages returns one page of room history, counted back from the
// newest message. limit defaults to 20, offset to 0.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	limit := queryInt(r, "limit", chat.DefaultPageLimit)
	offset := queryInt(r, "offset", chat.DefaultPageOffset)

	page, err := h.svc.GetRoomMessages(r.Context(), principal.ID, chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.resp.WriteData(w, r, http.StatusOK, page)
}

type sendMessageRequest struct {
	Content   string  `json:"content,omitempty"`
	Image     string  `json:"image,omitempty"`
	ReplyToID *string `json:"replyToId,omitempty"`
}

// SendMessage persists a message over HTTP and fans it out to the room's
// live connections, same as the socket send path.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), principal.ID, chat.SendMessageInput{
		ChatID:    chi.URLParam(r, "id"),
		Content:   req.Content,
		Image:     req.Image,
		ReplyToID: req.ReplyToID,
	})
	if err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.hub.NotifyNewMessage(r.Context(), msg)
	h.resp.WriteData(w, r, http.StatusCreated, msg)
}

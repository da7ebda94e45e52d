package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsvc/internal/chat"
	"github.com/chatsvc/internal/middleware"
	"github.com/chatsvc/internal/ws"
)

type ChatHandler struct {
	svc  *chat.Service
	hub  *ws.Hub
	resp *Responder
}

func NewChatHandler(svc *chat.Service, hub *ws.Hub, resp *Responder) *ChatHandler {
	return &ChatHandler{svc: svc, hub: hub, resp: resp}
}

// CreateRoom creates a group room or resolves the direct room for a pair.
// Live connections of all participants are subscribed right away.
func (h *ChatHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	var req chat.CreateChatInput
	if err := decodeBody(r, &req); err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	room, err := h.svc.CreateChat(r.Context(), principal.ID, req)
	if err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	ids := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		ids = append(ids, p.UserID)
	}
	h.hub.JoinRoom(room.ID, ids...)
	h.resp.WriteData(w, r, http.StatusCreated, room)
}

type addParticipantsRequest struct {
	UserIDs []string `json:"userIds"`
}

// AddParticipants adds users to a group room and announces them over the
// socket.
func (h *ChatHandler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	roomID := chi.URLParam(r, "id")
	var req addParticipantsRequest
	if err := decodeBody(r, &req); err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	res, err := h.svc.AddParticipants(r.Context(), principal.ID, roomID, req.UserIDs)
	if err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.hub.NotifyParticipantsAdded(res, principal.ID)
	h.resp.WriteData(w, r, http.StatusOK, res)
}

// ListRooms returns the caller's rooms, latest activity first.
func (h *ChatHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	rooms, err := h.svc.GetUserChats(r.Context(), principal.ID)
	if err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.resp.WriteData(w, r, http.StatusOK, rooms)
}

// GetRoom returns one room with participants and full history.
func (h *ChatHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	room, err := h.svc.GetSingleChat(r.Context(), principal.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.resp.WriteData(w, r, http.StatusOK, room)
}

package handler

import (
	"net/http"

	"github.com/chatsvc/internal/chat"
	"github.com/chatsvc/internal/middleware"
)

type UserHandler struct {
	svc  *chat.Service
	resp *Responder
}

func NewUserHandler(svc *chat.Service, resp *Responder) *UserHandler {
	return &UserHandler{svc: svc, resp: resp}
}

// ListUsers returns onboarded users other than the caller, candidates for
// starting a chat, with live presence attached.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r.Context())
	users, err := h.svc.ListDiscoverableUsers(r.Context(), principal.ID)
	if err != nil {
		h.resp.WriteError(w, r, err)
		return
	}
	h.resp.WriteData(w, r, http.StatusOK, users)
}

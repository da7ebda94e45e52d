package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsvc/internal/auth"
	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/middleware"
	"github.com/chatsvc/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	verifier       auth.Verifier
	sync           middleware.PrincipalSyncer
	allowedOrigins string
}

// NewWSHandler creates the WebSocket entry point. allowedOrigins matches
// the CORS setting (comma separated or "*").
func NewWSHandler(hub *ws.Hub, verifier auth.Verifier, sync middleware.PrincipalSyncer, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, verifier: verifier, sync: sync, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the connection first and authenticates after, so a bad
// token gets a proper close frame instead of a failed handshake.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	token := middleware.BearerToken(r)
	if token == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "missing bearer token")
		return
	}
	ctx, cancelAuth := context.WithTimeout(r.Context(), 10*time.Second)
	user, err := h.verifier.Verify(ctx, token)
	if err != nil {
		cancelAuth()
		logger.Infof("ws auth rejected token=%s: %v", middleware.MaskToken(token), err)
		closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}
	if err := h.sync.Sync(ctx, user); err != nil {
		cancelAuth()
		logger.Errorf("ws sync principal user=%s: %v", user.ID, err)
		closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	cancelAuth()

	pumpCtx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, user)
	client.Start(pumpCtx, cancel)
	h.hub.Register(client)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

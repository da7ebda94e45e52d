// Package ws is the WebSocket session manager: it tracks live connections
// per user, subscribes them to their rooms and fans room events out.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/chat"
	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/model"
)

// RoomService is the chat surface the hub drives for incoming events.
type RoomService interface {
	SendMessage(ctx context.Context, senderID string, in chat.SendMessageInput) (*model.Message, error)
	AddParticipants(ctx context.Context, actorID, chatID string, userIDs []string) (*chat.AddParticipantsResult, error)
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)
	ParticipantIDs(ctx context.Context, chatID string) ([]string, error)
}

// PresenceTracker mirrors connection liveness into the presence store.
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string)
}

// PushNotifier delivers push notifications. If nil, pushes are skipped.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Client]struct{}
	conns       map[string]map[*Client]struct{}
	clientRooms map[*Client]map[string]struct{}
	total       int
	maxConns    int

	svc      RoomService
	presence PresenceTracker
	push     PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(svc RoomService, presence PresenceTracker, push PushNotifier, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		conns:       make(map[string]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[string]struct{}),
		maxConns:    maxConns,
		svc:         svc,
		presence:    presence,
		push:        push,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.conns {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.conns = make(map[string]map[*Client]struct{})
	h.clientRooms = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	userID := c.user.ID

	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, userID)
		c.Close()
		return
	}
	if _, ok := h.conns[userID]; !ok {
		h.conns[userID] = make(map[*Client]struct{})
	}
	h.conns[userID][c] = struct{}{}
	h.clientRooms[c] = make(map[string]struct{})
	h.total++
	firstConn := len(h.conns[userID]) == 1
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if firstConn {
		if err := h.presence.SetOnline(ctx, userID); err != nil {
			logger.Errorf("ws set online user=%s: %v", userID, err)
		}
	}

	roomIDs, err := h.svc.RoomIDsForUser(ctx, userID)
	if err != nil {
		logger.Errorf("ws load rooms user=%s: %v", userID, err)
		return
	}
	h.subscribe(c, roomIDs)
}

// subscribe adds a still-registered client to the given rooms.
func (h *Hub) subscribe(c *Client, roomIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, registered := h.clientRooms[c]; !registered {
		return
	}
	for _, roomID := range roomIDs {
		if _, ok := h.rooms[roomID]; !ok {
			h.rooms[roomID] = make(map[*Client]struct{})
		}
		h.rooms[roomID][c] = struct{}{}
		h.clientRooms[c][roomID] = struct{}{}
	}
}

func (h *Hub) removeClient(c *Client) {
	userID := c.user.ID

	h.mu.Lock()
	clients, ok := h.conns[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.conns, userID)
	}
	for roomID := range h.clientRooms[c] {
		delete(h.rooms[roomID], c)
		if len(h.rooms[roomID]) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(h.clientRooms, c)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOffline(ctx, userID); err != nil {
			logger.Errorf("ws set offline user=%s: %v", userID, err)
		}
	}
}

// JoinRoom subscribes every live connection of the given users to a room.
// Called when a room is created or gains participants while its users are
// already connected.
func (h *Hub) JoinRoom(roomID string, userIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uid := range userIDs {
		for c := range h.conns[uid] {
			if _, ok := h.rooms[roomID]; !ok {
				h.rooms[roomID] = make(map[*Client]struct{})
			}
			h.rooms[roomID][c] = struct{}{}
			h.clientRooms[c][roomID] = struct{}{}
		}
	}
}

// HandleEvent dispatches an incoming WebSocket event. Domain failures go
// back to the sender as an error event; the connection stays open.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	case EventTyping:
		h.handleTyping(c, ev)
	case EventAddParticipants:
		h.handleAddParticipants(ctx, c, ev)
	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg, err := h.svc.SendMessage(ctx, c.user.ID, chat.SendMessageInput{
		ChatID:    ev.ChatID,
		Content:   ev.Content,
		Image:     ev.Image,
		ReplyToID: ev.ReplyToID,
	})
	if err != nil {
		h.replyError(c, err, "failed to send message")
		return
	}
	h.NotifyNewMessage(ctx, msg)
}

// NotifyNewMessage fans a persisted message out to the room and pushes to
// participants with no live connection. Shared by the socket and HTTP
// send paths.
func (h *Hub) NotifyNewMessage(ctx context.Context, m *model.Message) {
	h.broadcastRoom(m.ChatID, OutgoingEvent{Type: EventNewMessage, Payload: m}, "")

	if h.push == nil {
		return
	}
	memberIDs, err := h.svc.ParticipantIDs(ctx, m.ChatID)
	if err != nil {
		logger.Errorf("ws push targets chat=%s: %v", m.ChatID, err)
		return
	}
	title := "New message"
	if m.Sender != nil {
		title = m.Sender.DisplayName()
	}
	body := m.Content
	if body == "" {
		body = "Image"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"chatId": m.ChatID, "messageId": m.ID}

	h.mu.RLock()
	offline := make([]string, 0, len(memberIDs))
	for _, uid := range memberIDs {
		if uid == m.SenderID {
			continue
		}
		if len(h.conns[uid]) == 0 {
			offline = append(offline, uid)
		}
	}
	h.mu.RUnlock()

	for _, uid := range offline {
		go h.push.Notify(context.Background(), uid, title, body, data)
	}
}

func (h *Hub) handleTyping(c *Client, ev IncomingEvent) {
	if ev.ChatID == "" {
		return
	}
	h.mu.RLock()
	_, member := h.clientRooms[c][ev.ChatID]
	h.mu.RUnlock()
	if !member {
		h.sendError(c, "not a participant of this chat")
		return
	}
	out := OutgoingEvent{Type: EventTyping, Payload: TypingPayload{
		ChatID:   ev.ChatID,
		UserID:   c.user.ID,
		UserName: c.user.DisplayName(),
	}}
	// Excluded by user, not by connection: the typist's other devices do
	// not need their own indicator either.
	h.broadcastRoom(ev.ChatID, out, c.user.ID)
}

func (h *Hub) handleAddParticipants(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.handleAddParticipants", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := h.svc.AddParticipants(ctx, c.user.ID, ev.RoomID, ev.UserIDs)
	if err != nil {
		h.replyError(c, err, "failed to add participants")
		return
	}
	h.NotifyParticipantsAdded(res, c.user.ID)
}

// NotifyParticipantsAdded subscribes the newcomers' live connections to the
// room and announces the change to everyone in it. Shared by the socket and
// HTTP add paths.
func (h *Hub) NotifyParticipantsAdded(res *chat.AddParticipantsResult, addedBy string) {
	h.JoinRoom(res.RoomID, res.AddedUserIDs...)
	h.broadcastRoom(res.RoomID, OutgoingEvent{Type: EventParticipantsAdded, Payload: ParticipantsAddedPayload{
		RoomID:       res.RoomID,
		AddedUserIDs: res.AddedUserIDs,
		AddedBy:      addedBy,
		Participants: res.Participants,
	}}, "")
}

// broadcastRoom sends an event to every connection subscribed to the room,
// skipping all connections of exceptUserID when set.
func (h *Hub) broadcastRoom(roomID string, ev OutgoingEvent, exceptUserID string) {
	h.mu.RLock()
	clients, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		if exceptUserID != "" && c.user.ID == exceptUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// replyError maps a domain error to an error event for the sender.
// Unclassified errors are logged and masked.
func (h *Hub) replyError(c *Client, err error, fallback string) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		h.sendError(c, appErr.Message)
		return
	}
	logger.Errorf("ws event user=%s: %v", c.user.ID, err)
	h.sendError(c, fallback)
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: ErrorPayload{Message: message}})
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.user.ID)
		c.Close()
	}
}

func (h *Hub) heartbeat(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.presence.Heartbeat(ctx, c.user.ID)
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

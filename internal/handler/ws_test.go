package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/chat"
	"github.com/chatsvc/internal/model"
	"github.com/chatsvc/internal/ws"
)

type stubRoomService struct {
	mu         sync.Mutex
	subscribed []string
}

func (s *stubRoomService) SendMessage(context.Context, string, chat.SendMessageInput) (*model.Message, error) {
	return nil, apperr.BadRequest("not under test", nil)
}

func (s *stubRoomService) AddParticipants(context.Context, string, string, []string) (*chat.AddParticipantsResult, error) {
	return nil, apperr.BadRequest("not under test", nil)
}

func (s *stubRoomService) RoomIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, userID)
	return []string{"room-1"}, nil
}

func (s *stubRoomService) ParticipantIDs(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *stubRoomService) subscribedUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

type stubTracker struct {
	mu     sync.Mutex
	online []string
}

func (s *stubTracker) SetOnline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = append(s.online, userID)
	return nil
}

func (s *stubTracker) SetOffline(context.Context, string) error { return nil }

func (s *stubTracker) Heartbeat(context.Context, string) {}

func (s *stubTracker) onlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.online...)
}

type stubVerifier struct {
	users map[string]*model.User
}

func (s stubVerifier) Verify(_ context.Context, token string) (*model.User, error) {
	if u, ok := s.users[token]; ok {
		return u, nil
	}
	return nil, apperr.Unauthorized("invalid token", nil)
}

type stubSyncer struct{}

func (stubSyncer) Sync(context.Context, *model.User) error { return nil }

type wsHarness struct {
	svc   *stubRoomService
	track *stubTracker
	srv   *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	svc := &stubRoomService{}
	track := &stubTracker{}
	hub := ws.NewHub(svc, track, nil, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	verifier := stubVerifier{users: map[string]*model.User{
		"good-token": {ID: "alice", Email: "alice@example.com"},
	}}
	h := NewWSHandler(hub, verifier, stubSyncer{}, "*")
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &wsHarness{svc: svc, track: track, srv: srv}
}

func (h *wsHarness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	return conn
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
}

func TestServeWSMissingToken(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "")
	defer conn.Close()

	expectClose(t, conn, websocket.ClosePolicyViolation)
	assert.Empty(t, h.svc.subscribedUsers())
	assert.Empty(t, h.track.onlineUsers())
}

func TestServeWSInvalidToken(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "not-a-token")
	defer conn.Close()

	expectClose(t, conn, websocket.ClosePolicyViolation)
	assert.Empty(t, h.svc.subscribedUsers())
	assert.Empty(t, h.track.onlineUsers())
}

func TestServeWSValidToken(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "good-token")
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(h.track.onlineUsers()) == 1 && len(h.svc.subscribedUsers()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice"}, h.track.onlineUsers())
	assert.Equal(t, []string{"alice"}, h.svc.subscribedUsers())
}

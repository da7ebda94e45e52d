// Package chat implements room and message orchestration on top of the
// repository and presence layers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/model"
	"github.com/chatsvc/internal/repository"
)

const (
	DefaultPageLimit  = 20
	DefaultPageOffset = 0
)

// ChatStore is the room persistence the service depends on.
type ChatStore interface {
	CreateGroup(ctx context.Context, chat *model.Chat) error
	GroupNameExists(ctx context.Context, name string) (bool, error)
	CreateDirect(ctx context.Context, chat *model.Chat, userA, userB string) error
	FindDirect(ctx context.Context, userA, userB string) (*model.Chat, error)
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]model.Chat, error)
	Participants(ctx context.Context, chatID string) ([]model.Participant, error)
	ParticipantIDs(ctx context.Context, chatID string) ([]string, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)
	AddParticipants(ctx context.Context, chatID string, userIDs []string) ([]string, error)
}

// MessageStore is the message persistence the service depends on.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	Page(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	CountByChat(ctx context.Context, chatID string) (int, error)
	ListByChat(ctx context.Context, chatID string) ([]model.Message, error)
	LastMessage(ctx context.Context, chatID string) (*model.Message, error)
}

// Directory resolves user identities.
type Directory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	ListDiscoverable(ctx context.Context, excludeUserID string) ([]model.User, error)
}

// Presence answers which users currently hold a live connection.
type Presence interface {
	OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error)
}

type Service struct {
	chats    ChatStore
	messages MessageStore
	users    Directory
	presence Presence
}

func NewService(chats ChatStore, messages MessageStore, users Directory, presence Presence) *Service {
	return &Service{chats: chats, messages: messages, users: users, presence: presence}
}

// CreateChatInput is the payload for room creation. Direct chats name
// the other side via ParticipantID; groups list members in Participants.
// Either field feeds the member set, so clients may use both.
type CreateChatInput struct {
	IsGroup       bool     `json:"isGroup"`
	GroupName     string   `json:"groupName,omitempty"`
	Participants  []string `json:"participants"`
	ParticipantID string   `json:"participantId,omitempty"`
}

func (in CreateChatInput) memberIDs() []string {
	ids := in.Participants
	if in.ParticipantID != "" {
		ids = append(append([]string(nil), ids...), in.ParticipantID)
	}
	return ids
}

// CreateChat creates a group room or returns the direct room for a user
// pair, creating it on first contact. Direct chats are idempotent per
// pair regardless of which side initiates.
func (s *Service) CreateChat(ctx context.Context, creatorID string, in CreateChatInput) (*model.Chat, error) {
	members := dedupe(in.memberIDs(), creatorID)
	if len(members) == 0 {
		return nil, apperr.BadRequest("at least one other participant is required", nil)
	}
	for _, id := range members {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.NotFound("user "+id, nil)
			}
			return nil, fmt.Errorf("chat.CreateChat resolve member: %w", err)
		}
	}
	if in.IsGroup {
		return s.createGroup(ctx, creatorID, in.GroupName, members)
	}
	if len(members) != 1 {
		return nil, apperr.BadRequest("a direct chat has exactly one other participant", nil)
	}
	return s.getOrCreateDirect(ctx, creatorID, members[0])
}

func (s *Service) createGroup(ctx context.Context, creatorID, name string, members []string) (*model.Chat, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < model.GroupNameMinLen || n > model.GroupNameMaxLen {
		return nil, apperr.BadRequest(fmt.Sprintf("group name must be %d to %d characters",
			model.GroupNameMinLen, model.GroupNameMaxLen), nil)
	}
	if taken, err := s.chats.GroupNameExists(ctx, name); err != nil {
		return nil, fmt.Errorf("chat.createGroup: %w", err)
	} else if taken {
		return nil, apperr.BadRequest("group name is already taken", nil)
	}

	now := time.Now().UTC()
	chat := &model.Chat{
		ID:        uuid.New().String(),
		IsGroup:   true,
		GroupName: name,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	chat.Participants = buildParticipants(chat.ID, creatorID, members, now)
	if err := s.chats.CreateGroup(ctx, chat); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.BadRequest("group name is already taken", nil)
		}
		return nil, fmt.Errorf("chat.createGroup: %w", err)
	}
	return s.hydrate(ctx, chat)
}

func (s *Service) getOrCreateDirect(ctx context.Context, creatorID, otherID string) (*model.Chat, error) {
	if existing, err := s.chats.FindDirect(ctx, creatorID, otherID); err == nil {
		return s.hydrate(ctx, existing)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("chat.getOrCreateDirect: %w", err)
	}

	now := time.Now().UTC()
	chat := &model.Chat{
		ID:        uuid.New().String(),
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	chat.Participants = buildParticipants(chat.ID, creatorID, []string{otherID}, now)
	err := s.chats.CreateDirect(ctx, chat, creatorID, otherID)
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost the first-contact race; the winning row is the chat.
		existing, ferr := s.chats.FindDirect(ctx, creatorID, otherID)
		if ferr != nil {
			return nil, fmt.Errorf("chat.getOrCreateDirect refetch: %w", ferr)
		}
		return s.hydrate(ctx, existing)
	}
	if err != nil {
		return nil, fmt.Errorf("chat.getOrCreateDirect: %w", err)
	}
	return s.hydrate(ctx, chat)
}

func buildParticipants(chatID, creatorID string, members []string, now time.Time) []model.Participant {
	participants := make([]model.Participant, 0, len(members)+1)
	participants = append(participants, model.Participant{
		ID: uuid.New().String(), ChatID: chatID, UserID: creatorID, IsAdmin: true, JoinedAt: now,
	})
	for _, id := range members {
		participants = append(participants, model.Participant{
			ID: uuid.New().String(), ChatID: chatID, UserID: id, JoinedAt: now,
		})
	}
	return participants
}

// GetUserChats lists the caller's rooms ordered by latest activity, each
// with participants and the last message attached.
func (s *Service) GetUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.GetUserChats: %w", err)
	}
	for i := range chats {
		if err := s.attachParticipants(ctx, &chats[i]); err != nil {
			return nil, err
		}
		last, err := s.messages.LastMessage(ctx, chats[i].ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("chat.GetUserChats last message: %w", err)
		}
		chats[i].LastMessage = last
	}
	return chats, nil
}

// GetSingleChat returns a room with its full history. Only participants
// may read it.
func (s *Service) GetSingleChat(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	chat, err := s.requireMembership(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.attachParticipants(ctx, chat); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat.GetSingleChat messages: %w", err)
	}
	chat.Messages = msgs
	return chat, nil
}

// GetRoomMessages returns one page of history counted back from the newest
// message, with chronological page coordinates attached.
func (s *Service) GetRoomMessages(ctx context.Context, userID, chatID string, limit, offset int) (*model.MessagePage, error) {
	if limit <= 0 {
		return nil, apperr.BadRequest("limit must be positive", nil)
	}
	if offset < 0 {
		return nil, apperr.BadRequest("offset must not be negative", nil)
	}
	if _, err := s.requireMembership(ctx, userID, chatID); err != nil {
		return nil, err
	}

	total, err := s.messages.CountByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat.GetRoomMessages count: %w", err)
	}
	page := &model.MessagePage{Messages: []model.Message{}}
	page.CurrentPage, page.LastPage, page.TotalPages = pageWindow(total, limit, offset)
	if total == 0 || offset >= total {
		return page, nil
	}
	msgs, err := s.messages.Page(ctx, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("chat.GetRoomMessages page: %w", err)
	}
	page.Messages = msgs
	return page, nil
}

// SendMessageInput is the payload for sending a message over HTTP or the
// socket. One of Content or Image must be set.
type SendMessageInput struct {
	ChatID    string  `json:"chatId"`
	Content   string  `json:"content,omitempty"`
	Image     string  `json:"image,omitempty"`
	ReplyToID *string `json:"replyToId,omitempty"`
}

// SendMessage validates and persists a message, returning it with the
// sender hydrated. It does not broadcast; the socket layer fans out.
func (s *Service) SendMessage(ctx context.Context, senderID string, in SendMessageInput) (*model.Message, error) {
	if in.ChatID == "" {
		return nil, apperr.BadRequest("chatId is required", nil)
	}
	if strings.TrimSpace(in.Content) == "" && in.Image == "" {
		return nil, apperr.BadRequest("message needs content or an image", nil)
	}
	if _, err := s.requireMembership(ctx, senderID, in.ChatID); err != nil {
		return nil, err
	}
	if in.ReplyToID != nil {
		target, err := s.messages.GetByID(ctx, *in.ReplyToID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.BadRequest("replied-to message does not exist", nil)
			}
			return nil, fmt.Errorf("chat.SendMessage reply target: %w", err)
		}
		if target.ChatID != in.ChatID {
			return nil, apperr.BadRequest("replied-to message belongs to another chat", nil)
		}
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    in.ChatID,
		SenderID:  senderID,
		Content:   strings.TrimSpace(in.Content),
		Image:     in.Image,
		ReplyToID: in.ReplyToID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("chat.SendMessage: %w", err)
	}
	return s.messages.GetByID(ctx, msg.ID)
}

// AddParticipantsResult reports an add-participants call: the ids actually
// added and the resulting full membership.
type AddParticipantsResult struct {
	RoomID       string              `json:"roomId"`
	AddedUserIDs []string            `json:"addedUserIds"`
	Participants []model.Participant `json:"participants"`
}

// AddParticipants adds users to a group room. Only existing participants
// may add; users already present are skipped, so retries are harmless.
func (s *Service) AddParticipants(ctx context.Context, actorID, chatID string, userIDs []string) (*AddParticipantsResult, error) {
	chat, err := s.requireMembership(ctx, actorID, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroup {
		return nil, apperr.BadRequest("cannot add participants to a direct chat", nil)
	}
	ids := dedupe(userIDs, "")
	if len(ids) == 0 {
		return nil, apperr.BadRequest("userIds is required", nil)
	}
	for _, id := range ids {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.NotFound("user "+id, nil)
			}
			return nil, fmt.Errorf("chat.AddParticipants resolve: %w", err)
		}
	}
	added, err := s.chats.AddParticipants(ctx, chatID, ids)
	if err != nil {
		return nil, fmt.Errorf("chat.AddParticipants: %w", err)
	}
	participants, err := s.participantsWithPresence(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &AddParticipantsResult{RoomID: chatID, AddedUserIDs: added, Participants: participants}, nil
}

// ListDiscoverableUsers lists onboarded users other than the caller, as
// candidates for starting a chat.
func (s *Service) ListDiscoverableUsers(ctx context.Context, userID string) ([]model.User, error) {
	users, err := s.users.ListDiscoverable(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.ListDiscoverableUsers: %w", err)
	}
	ids := make([]string, len(users))
	for i := range users {
		ids[i] = users[i].ID
	}
	online, err := s.presence.OnlineSet(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("chat.ListDiscoverableUsers presence: %w", err)
	}
	for i := range users {
		users[i].IsOnline = online[users[i].ID]
	}
	return users, nil
}

// RoomIDsForUser lists the rooms a user belongs to, for socket room joins.
func (s *Service) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.chats.RoomIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.RoomIDsForUser: %w", err)
	}
	return ids, nil
}

// ParticipantIDs lists a room's member ids. Used by the socket layer for
// fan-out and push targeting.
func (s *Service) ParticipantIDs(ctx context.Context, chatID string) ([]string, error) {
	ids, err := s.chats.ParticipantIDs(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat.ParticipantIDs: %w", err)
	}
	return ids, nil
}

func (s *Service) requireMembership(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("chat", nil)
		}
		return nil, fmt.Errorf("chat.requireMembership: %w", err)
	}
	ok, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.requireMembership: %w", err)
	}
	if !ok {
		return nil, apperr.Unauthorized("not a participant of this chat", nil)
	}
	return chat, nil
}

func (s *Service) attachParticipants(ctx context.Context, chat *model.Chat) error {
	participants, err := s.participantsWithPresence(ctx, chat.ID)
	if err != nil {
		return err
	}
	chat.Participants = participants
	return nil
}

func (s *Service) participantsWithPresence(ctx context.Context, chatID string) ([]model.Participant, error) {
	participants, err := s.chats.Participants(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat.participants: %w", err)
	}
	ids := make([]string, len(participants))
	for i := range participants {
		ids[i] = participants[i].UserID
	}
	online, err := s.presence.OnlineSet(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("chat.participants presence: %w", err)
	}
	for i := range participants {
		if participants[i].User != nil {
			participants[i].User.IsOnline = online[participants[i].UserID]
		}
	}
	return participants, nil
}

func (s *Service) hydrate(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	if err := s.attachParticipants(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// dedupe preserves order, drops empties, duplicates and the excluded id.
func dedupe(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

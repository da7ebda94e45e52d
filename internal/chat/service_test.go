package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/model"
	"github.com/chatsvc/internal/repository"
)

type fakeChatStore struct {
	chats        map[string]*model.Chat
	participants map[string][]model.Participant
	pairKeys     map[string]string
	groupNames   map[string]string

	// when set, CreateDirect stores a competing chat and reports a
	// duplicate, simulating a lost first-contact race
	loseDirectRace bool
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		chats:        map[string]*model.Chat{},
		participants: map[string][]model.Participant{},
		pairKeys:     map[string]string{},
		groupNames:   map[string]string{},
	}
}

func (f *fakeChatStore) CreateGroup(_ context.Context, chat *model.Chat) error {
	key := strings.ToLower(chat.GroupName)
	if _, taken := f.groupNames[key]; taken {
		return repository.ErrDuplicate
	}
	f.groupNames[key] = chat.ID
	f.store(chat)
	return nil
}

func (f *fakeChatStore) GroupNameExists(_ context.Context, name string) (bool, error) {
	_, taken := f.groupNames[strings.ToLower(name)]
	return taken, nil
}

func (f *fakeChatStore) CreateDirect(_ context.Context, chat *model.Chat, userA, userB string) error {
	key := repository.PairKey(userA, userB)
	if f.loseDirectRace {
		f.loseDirectRace = false
		winner := *chat
		winner.ID = "winner-" + chat.ID
		f.pairKeys[key] = winner.ID
		f.store(&winner)
		return repository.ErrDuplicate
	}
	if _, exists := f.pairKeys[key]; exists {
		return repository.ErrDuplicate
	}
	f.pairKeys[key] = chat.ID
	f.store(chat)
	return nil
}

func (f *fakeChatStore) store(chat *model.Chat) {
	copied := *chat
	f.participants[chat.ID] = append([]model.Participant(nil), chat.Participants...)
	copied.Participants = nil
	f.chats[chat.ID] = &copied
}

func (f *fakeChatStore) FindDirect(_ context.Context, userA, userB string) (*model.Chat, error) {
	id, ok := f.pairKeys[repository.PairKey(userA, userB)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *f.chats[id]
	return &c, nil
}

func (f *fakeChatStore) GetByID(_ context.Context, id string) (*model.Chat, error) {
	c, ok := f.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeChatStore) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	out := []model.Chat{}
	for id, ps := range f.participants {
		for _, p := range ps {
			if p.UserID == userID {
				out = append(out, *f.chats[id])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeChatStore) Participants(_ context.Context, chatID string) ([]model.Participant, error) {
	ps := append([]model.Participant(nil), f.participants[chatID]...)
	for i := range ps {
		if ps[i].User == nil {
			ps[i].User = &model.User{ID: ps[i].UserID}
		}
	}
	return ps, nil
}

func (f *fakeChatStore) ParticipantIDs(_ context.Context, chatID string) ([]string, error) {
	ids := []string{}
	for _, p := range f.participants[chatID] {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (f *fakeChatStore) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	for _, p := range f.participants[chatID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChatStore) RoomIDsForUser(_ context.Context, userID string) ([]string, error) {
	ids := []string{}
	for chatID, ps := range f.participants {
		for _, p := range ps {
			if p.UserID == userID {
				ids = append(ids, chatID)
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeChatStore) AddParticipants(_ context.Context, chatID string, userIDs []string) ([]string, error) {
	added := []string{}
	for _, uid := range userIDs {
		present := false
		for _, p := range f.participants[chatID] {
			if p.UserID == uid {
				present = true
				break
			}
		}
		if present {
			continue
		}
		f.participants[chatID] = append(f.participants[chatID], model.Participant{
			ID: "p-" + uid, ChatID: chatID, UserID: uid, JoinedAt: time.Now(),
		})
		added = append(added, uid)
	}
	return added, nil
}

type fakeMessageStore struct {
	msgs map[string]*model.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{msgs: map[string]*model.Message{}}
}

func (f *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	copied := *m
	f.msgs[m.ID] = &copied
	return nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	m, ok := f.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *m
	copied.Sender = &model.User{ID: m.SenderID}
	return &copied, nil
}

func (f *fakeMessageStore) byChat(chatID string) []model.Message {
	out := []model.Message{}
	for _, m := range f.msgs {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *fakeMessageStore) Page(_ context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	asc := f.byChat(chatID)
	// offset counts back from the newest message
	end := len(asc) - offset
	if end <= 0 {
		return []model.Message{}, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return asc[start:end], nil
}

func (f *fakeMessageStore) CountByChat(_ context.Context, chatID string) (int, error) {
	return len(f.byChat(chatID)), nil
}

func (f *fakeMessageStore) ListByChat(_ context.Context, chatID string) ([]model.Message, error) {
	return f.byChat(chatID), nil
}

func (f *fakeMessageStore) LastMessage(_ context.Context, chatID string) (*model.Message, error) {
	asc := f.byChat(chatID)
	if len(asc) == 0 {
		return nil, repository.ErrNotFound
	}
	last := asc[len(asc)-1]
	return &last, nil
}

type fakeDirectory struct {
	users map[string]*model.User
}

func (f *fakeDirectory) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeDirectory) ListDiscoverable(_ context.Context, exclude string) ([]model.User, error) {
	out := []model.User{}
	for id, u := range f.users {
		if id != exclude {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePresence struct {
	online map[string]bool
}

func (f *fakePresence) OnlineSet(_ context.Context, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		out[id] = f.online[id]
	}
	return out, nil
}

type fixture struct {
	svc      *Service
	chats    *fakeChatStore
	messages *fakeMessageStore
	users    *fakeDirectory
	presence *fakePresence
}

func newFixture(userIDs ...string) *fixture {
	dir := &fakeDirectory{users: map[string]*model.User{}}
	for _, id := range userIDs {
		dir.users[id] = &model.User{ID: id, FirstName: "User", LastName: id, Status: model.UserStatusVerified}
	}
	f := &fixture{
		chats:    newFakeChatStore(),
		messages: newFakeMessageStore(),
		users:    dir,
		presence: &fakePresence{online: map[string]bool{}},
	}
	f.svc = NewService(f.chats, f.messages, f.users, f.presence)
	return f
}

func (f *fixture) mustCreateGroup(t *testing.T, creator, name string, members ...string) *model.Chat {
	t.Helper()
	chat, err := f.svc.CreateChat(context.Background(), creator, CreateChatInput{
		IsGroup: true, GroupName: name, Participants: members,
	})
	require.NoError(t, err)
	return chat
}

func TestCreateDirectChatIdempotent(t *testing.T) {
	f := newFixture("alice", "bob")
	ctx := context.Background()

	first, err := f.svc.CreateChat(ctx, "alice", CreateChatInput{ParticipantID: "bob"})
	require.NoError(t, err)
	require.Len(t, first.Participants, 2)

	// same pair, opposite direction
	second, err := f.svc.CreateChat(ctx, "bob", CreateChatInput{ParticipantID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.chats.chats, 1)
}

func TestCreateDirectChatLostRace(t *testing.T) {
	f := newFixture("alice", "bob")
	f.chats.loseDirectRace = true

	chat, err := f.svc.CreateChat(context.Background(), "alice", CreateChatInput{ParticipantID: "bob"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(chat.ID, "winner-"), "should return the concurrently created chat")
}

func TestCreateDirectChatWithSelf(t *testing.T) {
	f := newFixture("alice")
	_, err := f.svc.CreateChat(context.Background(), "alice", CreateChatInput{ParticipantID: "alice"})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))
}

func TestCreateChatUnknownUser(t *testing.T) {
	f := newFixture("alice")
	_, err := f.svc.CreateChat(context.Background(), "alice", CreateChatInput{ParticipantID: "ghost"})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestCreateGroupNameLength(t *testing.T) {
	f := newFixture("alice", "bob")
	ctx := context.Background()

	_, err := f.svc.CreateChat(ctx, "alice", CreateChatInput{
		IsGroup: true, GroupName: "ab", Participants: []string{"bob"},
	})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))

	_, err = f.svc.CreateChat(ctx, "alice", CreateChatInput{
		IsGroup: true, GroupName: strings.Repeat("x", 51), Participants: []string{"bob"},
	})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))
}

func TestCreateGroupDuplicateName(t *testing.T) {
	f := newFixture("alice", "bob", "carol")
	ctx := context.Background()

	f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	_, err := f.svc.CreateChat(ctx, "carol", CreateChatInput{
		IsGroup: true, GroupName: "weekend plans", Participants: []string{"bob"},
	})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest), "group names are unique case-insensitively")
}

func TestCreateGroupCreatorIsAdmin(t *testing.T) {
	f := newFixture("alice", "bob", "carol")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob", "carol")

	require.Len(t, chat.Participants, 3)
	admins := 0
	for _, p := range chat.Participants {
		if p.IsAdmin {
			admins++
			assert.Equal(t, "alice", p.UserID)
		}
	}
	assert.Equal(t, 1, admins)
}

func TestSendMessageNotParticipant(t *testing.T) {
	f := newFixture("alice", "bob", "mallory")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	_, err := f.svc.SendMessage(context.Background(), "mallory", SendMessageInput{
		ChatID: chat.ID, Content: "hi",
	})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	assert.Empty(t, f.messages.msgs, "nothing may be persisted for an outsider")
}

func TestSendMessageMissingChat(t *testing.T) {
	f := newFixture("alice")

	_, err := f.svc.SendMessage(context.Background(), "alice", SendMessageInput{
		ChatID: "no-such-chat", Content: "hi",
	})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.Empty(t, f.messages.msgs)
}

func TestSendMessageRequiresContentOrImage(t *testing.T) {
	f := newFixture("alice", "bob")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	_, err := f.svc.SendMessage(context.Background(), "alice", SendMessageInput{ChatID: chat.ID, Content: "   "})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))

	msg, err := f.svc.SendMessage(context.Background(), "alice", SendMessageInput{
		ChatID: chat.ID, Image: "https://cdn.example.com/cat.png",
	})
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
}

func TestSendMessageReplyMustBeSameChat(t *testing.T) {
	f := newFixture("alice", "bob")
	ctx := context.Background()
	first := f.mustCreateGroup(t, "alice", "First Room", "bob")
	second := f.mustCreateGroup(t, "alice", "Second Room", "bob")

	orig, err := f.svc.SendMessage(ctx, "alice", SendMessageInput{ChatID: first.ID, Content: "hello"})
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, "bob", SendMessageInput{
		ChatID: second.ID, Content: "re: hello", ReplyToID: &orig.ID,
	})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))

	reply, err := f.svc.SendMessage(ctx, "bob", SendMessageInput{
		ChatID: first.ID, Content: "re: hello", ReplyToID: &orig.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, orig.ID, *reply.ReplyToID)
}

func seedMessages(t *testing.T, f *fixture, chatID string, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		m := &model.Message{
			ID:        fmt.Sprintf("m%03d", i),
			ChatID:    chatID,
			SenderID:  "alice",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, f.messages.Create(context.Background(), m))
	}
}

func TestGetRoomMessagesPaging(t *testing.T) {
	f := newFixture("alice", "bob")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")
	seedMessages(t, f, chat.ID, 25)
	ctx := context.Background()

	cases := []struct {
		offset      int
		currentPage int
		lastPage    bool
		count       int
		firstMsg    string
	}{
		{offset: 0, currentPage: 3, lastPage: false, count: 10, firstMsg: "message 15"},
		{offset: 10, currentPage: 2, lastPage: false, count: 10, firstMsg: "message 5"},
		{offset: 20, currentPage: 1, lastPage: true, count: 5, firstMsg: "message 0"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("offset=%d", tc.offset), func(t *testing.T) {
			page, err := f.svc.GetRoomMessages(ctx, "alice", chat.ID, 10, tc.offset)
			require.NoError(t, err)
			assert.Equal(t, tc.currentPage, page.CurrentPage)
			assert.Equal(t, tc.lastPage, page.LastPage)
			assert.Equal(t, 3, page.TotalPages)
			require.Len(t, page.Messages, tc.count)
			assert.Equal(t, tc.firstMsg, page.Messages[0].Content)
			for i := 1; i < len(page.Messages); i++ {
				assert.True(t, page.Messages[i].CreatedAt.After(page.Messages[i-1].CreatedAt),
					"batch must run oldest to newest")
			}
		})
	}
}

func TestGetRoomMessagesEmptyChat(t *testing.T) {
	f := newFixture("alice", "bob")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	page, err := f.svc.GetRoomMessages(context.Background(), "alice", chat.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.CurrentPage)
	assert.False(t, page.LastPage)
	assert.Equal(t, 0, page.TotalPages)
	assert.Empty(t, page.Messages)
}

func TestGetRoomMessagesRejectsBadLimit(t *testing.T) {
	f := newFixture("alice", "bob")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	_, err := f.svc.GetRoomMessages(context.Background(), "alice", chat.ID, 0, 0)
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))

	_, err = f.svc.GetRoomMessages(context.Background(), "alice", chat.ID, 10, -1)
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))
}

func TestGetRoomMessagesNonParticipant(t *testing.T) {
	f := newFixture("alice", "bob", "mallory")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	_, err := f.svc.GetRoomMessages(context.Background(), "mallory", chat.ID, 10, 0)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestGetRoomMessagesMissingChat(t *testing.T) {
	f := newFixture("alice")

	_, err := f.svc.GetRoomMessages(context.Background(), "alice", "no-such-chat", 10, 0)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestGetSingleChatNonParticipant(t *testing.T) {
	f := newFixture("alice", "bob", "mallory")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	_, err := f.svc.GetSingleChat(context.Background(), "mallory", chat.ID)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestGetSingleChatMissingChat(t *testing.T) {
	f := newFixture("alice")

	_, err := f.svc.GetSingleChat(context.Background(), "alice", "no-such-chat")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestAddParticipantsIdempotent(t *testing.T) {
	f := newFixture("alice", "bob", "carol", "dave")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")
	ctx := context.Background()

	res, err := f.svc.AddParticipants(ctx, "alice", chat.ID, []string{"carol", "bob", "dave", "carol"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"carol", "dave"}, res.AddedUserIDs)
	assert.Len(t, res.Participants, 4)

	res, err = f.svc.AddParticipants(ctx, "alice", chat.ID, []string{"carol"})
	require.NoError(t, err)
	assert.Empty(t, res.AddedUserIDs)
	assert.Len(t, res.Participants, 4)
}

func TestAddParticipantsDirectChat(t *testing.T) {
	f := newFixture("alice", "bob", "carol")
	chat, err := f.svc.CreateChat(context.Background(), "alice", CreateChatInput{ParticipantID: "bob"})
	require.NoError(t, err)

	_, err = f.svc.AddParticipants(context.Background(), "alice", chat.ID, []string{"carol"})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))
}

func TestAddParticipantsByOutsider(t *testing.T) {
	f := newFixture("alice", "bob", "mallory", "carol")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")

	_, err := f.svc.AddParticipants(context.Background(), "mallory", chat.ID, []string{"carol"})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestGetUserChatsIncludesLastMessage(t *testing.T) {
	f := newFixture("alice", "bob")
	chat := f.mustCreateGroup(t, "alice", "Weekend Plans", "bob")
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, "alice", SendMessageInput{ChatID: chat.ID, Content: "first"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = f.svc.SendMessage(ctx, "bob", SendMessageInput{ChatID: chat.ID, Content: "second"})
	require.NoError(t, err)

	chats, err := f.svc.GetUserChats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "second", chats[0].LastMessage.Content)
	assert.Len(t, chats[0].Participants, 2)
}

func TestListDiscoverableUsersPresence(t *testing.T) {
	f := newFixture("alice", "bob", "carol")
	f.presence.online["bob"] = true

	users, err := f.svc.ListDiscoverableUsers(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, users, 2)
	byID := map[string]model.User{}
	for _, u := range users {
		byID[u.ID] = u
	}
	assert.True(t, byID["bob"].IsOnline)
	assert.False(t, byID["carol"].IsOnline)
}

package ws

import "github.com/chatsvc/internal/model"

type EventType string

const (
	EventSendMessage       EventType = "send-message"
	EventNewMessage        EventType = "new-message"
	EventTyping            EventType = "typing"
	EventAddParticipants   EventType = "add-participants"
	EventParticipantsAdded EventType = "participants-added"
	EventError             EventType = "error"
)

// IncomingEvent is what the client sends to the server.
type IncomingEvent struct {
	Type EventType `json:"type"`

	// send-message, typing
	ChatID    string  `json:"chatId,omitempty"`
	Content   string  `json:"content,omitempty"`
	Image     string  `json:"image,omitempty"`
	ReplyToID *string `json:"replyToId,omitempty"`

	// add-participants
	RoomID  string   `json:"roomId,omitempty"`
	UserIDs []string `json:"userIds,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingPayload is broadcast to a room while one of its users types.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ParticipantsAddedPayload is broadcast when users join a group room.
type ParticipantsAddedPayload struct {
	RoomID       string              `json:"roomId"`
	AddedUserIDs []string            `json:"addedUserIds"`
	AddedBy      string              `json:"addedBy"`
	Participants []model.Participant `json:"participants"`
}

// ErrorPayload reports a rejected event back to the sender only.
type ErrorPayload struct {
	Message string `json:"message"`
}

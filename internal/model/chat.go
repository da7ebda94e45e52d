package model

import "time"

const (
	GroupNameMinLen = 3
	GroupNameMaxLen = 50
)

// Chat is a conversation container: either a direct chat with exactly two
// participants or a named group. Immutable after creation except for
// participant growth and the lastMessage pointer.
type Chat struct {
	ID           string        `json:"id"`
	IsGroup      bool          `json:"isGroup"`
	GroupName    string        `json:"groupName,omitempty"`
	CreatedBy    string        `json:"createdBy"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	Messages     []Message     `json:"messages,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// HasParticipant reports whether userID is in the hydrated participant list.
func (c *Chat) HasParticipant(userID string) bool {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return true
		}
	}
	return false
}

// Participant is a user's membership record within a chat. It is owned by
// the chat: deleting the chat deletes its participants.
type Participant struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chatId"`
	UserID   string    `json:"userId"`
	IsAdmin  bool      `json:"isAdmin"`
	JoinedAt time.Time `json:"joinedAt"`
	User     *User     `json:"user,omitempty"`
}

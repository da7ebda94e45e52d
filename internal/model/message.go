package model

import "time"

// Message is an append-only chat message. Content and image are both
// optional but at least one must be present; image is an opaque reference
// string. ReplyTo points at another message in the same chat.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content,omitempty"`
	Image     string    `json:"image,omitempty"`
	ReplyToID *string   `json:"replyToId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Sender *User `json:"sender,omitempty"`
	// ReplyTo is a hydrated preview of the replied-to message, populated on
	// read paths. Replies form a tree: derived by query, never a live
	// back-pointer collection.
	ReplyTo *Message `json:"replyTo,omitempty"`
}

// MessagePage is a window of a chat's history. Messages are ordered oldest
// to newest for direct rendering; CurrentPage counts from the oldest batch,
// so LastPage means the client has reached the beginning of history.
type MessagePage struct {
	CurrentPage int       `json:"currentPage"`
	LastPage    bool      `json:"lastPage"`
	TotalPages  int       `json:"totalPages"`
	Messages    []Message `json:"messages"`
}

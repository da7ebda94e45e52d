package model

import "time"

// UserStatus is the lifecycle status assigned by the identity provider.
// Only verified (onboarded) users are discoverable for starting a chat.
type UserStatus string

const (
	UserStatusPending  UserStatus = "PENDING"
	UserStatusCreated  UserStatus = "CREATED"
	UserStatusVerified UserStatus = "VERIFIED"
)

// User is an identity owned by the identity provider; the chat service only
// consumes it.
type User struct {
	ID        string     `json:"id"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	IsOnline  bool       `json:"isOnline"`
	Status    UserStatus `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Onboarded reports whether the user finished identity verification.
func (u *User) Onboarded() bool {
	return u.Status == UserStatusVerified
}

// DisplayName returns the name used in typing relays and push notifications.
func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

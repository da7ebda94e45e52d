package model

import "time"

// PushSubscription is a browser push endpoint registered by one of a
// user's devices.
type PushSubscription struct {
	UserID    string    `json:"userId"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"createdAt"`
}

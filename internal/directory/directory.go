// Package directory is the user-facing view over the identity records and
// the presence store. Identity fields come from Postgres, liveness from the
// presence backend.
package directory

import (
	"context"
	"fmt"

	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/model"
	"github.com/chatsvc/internal/storage"
)

// UserStore is the subset of the user repository the directory needs.
type UserStore interface {
	Upsert(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	ListDiscoverable(ctx context.Context, excludeUserID string) ([]model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

type Directory struct {
	users    UserStore
	presence storage.PresenceStore
}

func New(users UserStore, presence storage.PresenceStore) *Directory {
	return &Directory{users: users, presence: presence}
}

// Sync records the principal delivered by the identity provider, keeping
// the local user row current with each authenticated request.
func (d *Directory) Sync(ctx context.Context, u *model.User) error {
	if err := d.users.Upsert(ctx, u); err != nil {
		return fmt.Errorf("directory.Sync: %w", err)
	}
	return nil
}

func (d *Directory) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	online, perr := d.presence.IsOnline(ctx, id)
	if perr != nil {
		logger.Errorf("directory.GetByID presence: %v", perr)
	} else {
		u.IsOnline = online
	}
	return u, nil
}

func (d *Directory) ListDiscoverable(ctx context.Context, excludeUserID string) ([]model.User, error) {
	return d.users.ListDiscoverable(ctx, excludeUserID)
}

// SetOnline mirrors liveness into both stores: the presence backend with a
// TTL for fast lookups, and the user row for durable display state.
func (d *Directory) SetOnline(ctx context.Context, userID string) error {
	if err := d.presence.SetOnline(ctx, userID, storage.DefaultPresenceTTL); err != nil {
		return fmt.Errorf("directory.SetOnline: %w", err)
	}
	if err := d.users.SetOnline(ctx, userID, true); err != nil {
		return fmt.Errorf("directory.SetOnline: %w", err)
	}
	return nil
}

func (d *Directory) SetOffline(ctx context.Context, userID string) error {
	if err := d.presence.SetOffline(ctx, userID); err != nil {
		return fmt.Errorf("directory.SetOffline: %w", err)
	}
	if err := d.users.SetOnline(ctx, userID, false); err != nil {
		return fmt.Errorf("directory.SetOffline: %w", err)
	}
	return nil
}

// Heartbeat refreshes the presence TTL while a connection stays open.
func (d *Directory) Heartbeat(ctx context.Context, userID string) {
	if err := d.presence.SetOnline(ctx, userID, storage.DefaultPresenceTTL); err != nil {
		logger.Errorf("directory.Heartbeat %s: %v", userID, err)
	}
}

func (d *Directory) OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error) {
	return d.presence.OnlineSet(ctx, userIDs)
}

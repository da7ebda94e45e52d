package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/model"
)

// SubscriptionStore is the persistence behind a user's push endpoints.
type SubscriptionStore interface {
	Save(ctx context.Context, sub *model.PushSubscription) error
	Delete(ctx context.Context, userID, endpoint string) error
	ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// Sender delivers Web Push notifications to every subscription a user has
// registered. A nil *Sender is a no-op notifier.
type Sender struct {
	store      SubscriptionStore
	keys       *VAPIDKeys
	subscriber string
	ttl        int
}

func NewSender(store SubscriptionStore, keys *VAPIDKeys, subscriber string) *Sender {
	if subscriber == "" {
		subscriber = "mailto:ops@localhost"
	}
	return &Sender{store: store, keys: keys, subscriber: subscriber, ttl: int((12 * time.Hour).Seconds())}
}

func (s *Sender) PublicKey() string {
	if s == nil || s.keys == nil {
		return ""
	}
	return s.keys.PublicKey
}

func (s *Sender) Subscribe(ctx context.Context, sub *model.PushSubscription) error {
	return s.store.Save(ctx, sub)
}

func (s *Sender) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return s.store.Delete(ctx, userID, endpoint)
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends the notification to all of the user's subscriptions. Gone
// endpoints are pruned; other delivery failures are logged and skipped so
// one dead endpoint cannot block the rest.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s == nil {
		return
	}
	subs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push list subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push marshal payload: %v", err)
		return
	}
	for _, sub := range subs {
		s.send(ctx, &sub, payload)
	}
}

func (s *Sender) send(ctx context.Context, sub *model.PushSubscription, payload []byte) {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, target, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		logger.Errorf("push send user=%s: %v", sub.UserID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		// Endpoint is dead, the browser dropped the subscription.
		if err := s.store.Delete(ctx, sub.UserID, sub.Endpoint); err != nil {
			logger.Errorf("push prune endpoint user=%s: %v", sub.UserID, err)
		}
		return
	}
	if resp.StatusCode >= 300 {
		logger.Errorf("push send user=%s: status=%d", sub.UserID, resp.StatusCode)
	}
}

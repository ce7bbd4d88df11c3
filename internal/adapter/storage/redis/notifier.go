package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// Notifier implements ports.Notifier by publishing JSON on Redis channels:
// {prefix}:user:{id} for customers, {prefix}:staff for back-office staff.
type Notifier struct {
	client goredis.UniversalClient
	prefix string
}

// NewNotifier creates a Redis pub/sub notifier.
func NewNotifier(client goredis.UniversalClient, channelPrefix string) *Notifier {
	return &Notifier{client: client, prefix: channelPrefix}
}

// Notify publishes n. Having no subscribers is not an error.
func (n *Notifier) Notify(ctx context.Context, msg domain.Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := n.client.Publish(ctx, n.Channel(msg), body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.Kind, err)
	}
	return nil
}

// Channel returns the channel a notification is published on.
func (n *Notifier) Channel(msg domain.Notification) string {
	if msg.UserID == nil {
		return n.prefix + ":staff"
	}
	return n.prefix + ":user:" + msg.UserID.String()
}

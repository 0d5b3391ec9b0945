package service

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/call-service/internal/hub"
	"github.com/weiawesome/wes-io-live/call-service/pkg/pubsub"
)

type hubNotifier struct {
	hub *hub.Hub
}

// NewHubNotifier delivers to the connections held by this instance only.
func NewHubNotifier(h *hub.Hub) Notifier {
	return &hubNotifier{hub: h}
}

func (n *hubNotifier) NotifyUser(ctx context.Context, userID string, message interface{}) error {
	_, err := n.hub.SendToUser(userID, message)
	return err
}

type pubsubNotifier struct {
	publisher pubsub.Publisher
}

// NewPubSubNotifier publishes to the user's notification channel so that
// every instance holding a connection for the user can deliver it.
func NewPubSubNotifier(publisher pubsub.Publisher) Notifier {
	return &pubsubNotifier{publisher: publisher}
}

func (n *pubsubNotifier) NotifyUser(ctx context.Context, userID string, message interface{}) error {
	event, err := pubsub.NewEvent(pubsub.EventUserNotification, userID, message)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return n.publisher.Publish(ctx, pubsub.UserNotifyChannel(userID), event)
}
